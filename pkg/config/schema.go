package config

// configSchema constrains CUE configuration files. YAML files are checked
// by the struct tags in Validate instead.
const configSchema = `
#Duration: string & =~"^[0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h)([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))*$" | number & >=0

#Config: {
	binary?:           string & !=""
	base_dir?:         string & !=""
	timeout?:          #Duration
	grace_period?:     #Duration
	max_retries?:      int & >=0 & <=10
	retry_base_delay?: number & >0
	retry_max_delay?:  #Duration
	stream_output?:    bool
	verbose?:          bool
	debug?:            bool
	history_db?:       string
	env?: [string]: string

	policy?: {
		enabled?:     bool
		paths?:       [...string]
		environment?: string
		max_changes?: int & >=0
	}

	logging?: {
		level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		format?: "console" | "json"
		output?: string
	}

	tracing?: {
		enabled?:       bool
		exporter?:      "otlp" | "stdout" | "none"
		endpoint?:      string
		sampling_rate?: number & >=0 & <=1
	}

	metrics?: {
		enabled?:        bool
		listen_address?: string
	}
}
`
