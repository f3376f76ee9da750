package sync

import "time"

// Config настройки движка синхронизации.
type Config struct {
	MaxAttempts      int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	ApplyTimeout     time.Duration
	Workers          int
	PollInterval     time.Duration
	LeaseTimeout     time.Duration
	PullLimit        int
	PullMaxLimit     int
	ProcessAfterPush bool
	// AutoResolve политика автоматического разрешения конфликтов по типам сущностей.
	// Допустимы только server_wins и client_wins.
	AutoResolve map[EntityType]Resolution
	// Clock источник времени; nil означает time.Now.
	Clock func() time.Time
}

// leaseFactor во сколько раз аренда элемента в processing должна превышать ApplyTimeout.
const leaseFactor = 2

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		BackoffBase:  2 * time.Second,
		BackoffMax:   5 * time.Minute,
		ApplyTimeout: 10 * time.Second,
		Workers:      2,
		PollInterval: time.Second,
		LeaseTimeout: 2 * time.Minute,
		PullLimit:    100,
		PullMaxLimit: 1000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BackoffBase < 0 {
		c.BackoffBase = 0
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = def.BackoffMax
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = def.ApplyTimeout
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = def.LeaseTimeout
	}
	// аренда не должна истечь, пока применение еще может идти
	if minLease := leaseFactor * c.ApplyTimeout; c.LeaseTimeout < minLease {
		c.LeaseTimeout = minLease
	}
	if c.PullLimit <= 0 {
		c.PullLimit = def.PullLimit
	}
	if c.PullMaxLimit < c.PullLimit {
		c.PullMaxLimit = c.PullLimit
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

func (c Config) now() time.Time {
	return c.Clock().UTC()
}
