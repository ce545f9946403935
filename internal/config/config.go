package config

import "time"

type Config struct {
	Addr         string
	DataDir      string
	DBBackend    string
	DatabaseURL  string
	MediaRoot    string
	APIToken     string
	AllowRemote  bool
	AllowedHosts []string

	LogLevel  string
	LogFormat string

	JobStoreBackend string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	TransferPermits    int
	JobRetention       time.Duration
	JobCleanupInterval time.Duration

	CacheSyncInterval time.Duration
	CacheSyncBackoff  time.Duration

	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3ForcePathStyle  bool

	DrivePrefix     string
	DriveFolder     string
	CatalogFileName string
	LibraryID       string
}
