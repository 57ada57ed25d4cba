package common

type CommonConfig struct {
	RPCServer       string `yaml:"rpc_url"`
	PromPort        string `yaml:"prom_port"`
	HealthCheckPort string `yaml:"health_check_port"`
	PostgresConfig  string `yaml:"postgres"`
	RedisConfig     string `yaml:"redis"`
	LogFile         string `yaml:"log_file"`
	Debug           bool   `yaml:"debug"`
}
