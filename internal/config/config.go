package config

import "os"

type Config struct {
	HTTPAddr    string
	MySQLDSN    string
	RedisAddr   string
	QueueDir    string
	ServiceName string
}

func Load() Config {
	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		MySQLDSN:    getenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/winestock?parseTime=true"),
		RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),
		QueueDir:    getenv("QUEUE_DIR", "data/queue"),
		ServiceName: getenv("SERVICE_NAME", "stocksync"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
