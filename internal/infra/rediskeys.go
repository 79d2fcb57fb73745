package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis и в файловом хранилище
	RedisNamespace = "hallucination-monitor"
)

// Ключи durable-хранилища (аналог localStorage дашборда). Каждый ключ хранит независимый JSON-блоб.
const (
	StorageKeyAudioSettings    = RedisNamespace + ":audio-settings"
	StorageKeyPersistentAlerts = RedisNamespace + ":persistent-alerts"
	StorageKeyStatsSettings    = RedisNamespace + ":stats-settings"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanAlertEvents — трансляция событий жизненного цикла алертов другим консолям.
	RedisChanAlertEvents = RedisNamespace + ":alerts:events"
	// RedisChanAlertAck — внешние подтверждения в формате "alertID:operator".
	RedisChanAlertAck = RedisNamespace + ":alerts:ack-signal"
)
