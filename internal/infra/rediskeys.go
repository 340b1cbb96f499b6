package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "clearing"
)

// Ключи для Sets (состояние)
const (
	// RedisKeyBlockedProcesses — множество pid, заблокированных администратором.
	RedisKeyBlockedProcesses = RedisNamespace + ":process:blocked_set"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanProcessBlock — сигнал блокировки/разблокировки процесса.
	// Формат payload: "pid:true" / "pid:false".
	RedisChanProcessBlock = RedisNamespace + ":process:block-signal"
)
