package config

type Config interface {
	EnvConfig
	OAuthConfig
	StorageConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	OAuth
	Storage
}

func New() Config {
	return mainConfig{}
}
