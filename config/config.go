package config

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_SQLITE StorageType = "sqlite"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	HttpPort             int
	StorageType          StorageType
	RedisConfig          RedisStorageConfig
	SqlitePath           string
	Lanes                int
	LaneCapacity         int
	ActivatorWorkers     int
	TimerMaxDelaySeconds int64
	DirectoryEndpoint    string
	TicketEndpoint       string
	NotifyEndpoint       string
	DevDirectoryFile     string
	AuditFile            string
	LogLevel             string
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
	Password  string
	PoolSize  int
}
