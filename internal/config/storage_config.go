package config

const (
	storeBackendVar = "STORE_BACKEND"
	folderEnvVar    = "DATA_FOLDER"
	redisAddrVar    = "REDIS_ADDR"
	storeKeyVar     = "STORE_KEY"
)

type StoreBackend string

const (
	FileBackend   StoreBackend = "file"
	RedisBackend  StoreBackend = "redis"
	MemoryBackend StoreBackend = "memory"
)

type StorageConfig interface {
	GetStoreBackend() StoreBackend
	GetDataFolder() string
	GetRedisAddr() string
	GetStoreKey() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetStoreBackend() StoreBackend {
	switch b := StoreBackend(GetEnv(storeBackendVar, string(FileBackend))); b {
	case FileBackend, RedisBackend, MemoryBackend:
		return b
	default:
		return FileBackend
	}
}

func (Storage) GetDataFolder() string {
	return GetEnv(folderEnvVar, "./data")
}

func (Storage) GetRedisAddr() string {
	return GetEnv(redisAddrVar, "localhost:6379")
}

// GetStoreKey returns the base64 encoded 32 byte key used to seal stored secrets.
func (Storage) GetStoreKey() string {
	return GetEnv(storeKeyVar, "")
}
