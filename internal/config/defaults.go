package config

var defaults = map[string]any{
	"secret": "",

	"lock_name": "Lock",
	"timezone":  "UTC",

	"auth_window":    30,
	"invitation_ttl": 86400, // 24 hours

	"replay_store": "memory",
	"log_level":    "info",

	"listen":   ":8080",
	"base_url": "/",

	"sync.remote":   "",
	"sync.interval": 60,

	"email.host":     "host.docker.internal",
	"email.port":     "25",
	"email.username": "",
	"email.password": "",
	"email.from":     "noreply@example.com",

	"storage.type":        "sqlite",
	"storage.sqlite.path": "./data/storage.db",
}

func Defaults() map[string]any {
	values := make(map[string]any)
	for k, v := range defaults {
		values[k] = v
	}
	return values
}
