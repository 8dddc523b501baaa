package redis

// PopStrategy selects how the lowest scored member is removed from a sorted set.
type PopStrategy string

const (
	// PopAuto probes the server once and prefers ZPOPMIN.
	PopAuto PopStrategy = ""
	// PopZPopMin uses the native ZPOPMIN command (Redis >= 5.0).
	PopZPopMin PopStrategy = "zpopmin"
	// PopTransaction reads and removes rank 0 inside MULTI/EXEC.
	PopTransaction PopStrategy = "transaction"
)

type Option struct {
	Addrs            []string
	DB               int
	Username         string
	Password         string
	SentinelUsername string
	SentinelPassword string
	MasterName       string
	PopStrategy      PopStrategy
}

func DefaultOption() *Option {
	return &Option{
		Addrs: []string{"127.0.0.1:6379"},
	}
}
