package logger

import (
	"time"

	"go.uber.org/zap"
)

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

func TenantID(v string) zap.Field { return zap.String("tenant_id", v) }

func Method(v string) zap.Field { return zap.String("method", v) }

func Path(v string) zap.Field { return zap.String("path", v) }

func Status(v int) zap.Field { return zap.Int("status", v) }

func DurationMs(d time.Duration) zap.Field { return zap.Int64("duration_ms", d.Milliseconds()) }

func Reason(v string) zap.Field { return zap.String("reason", v) }

func Plane(v string) zap.Field { return zap.String("plane", v) }

func Upstream(v string) zap.Field { return zap.String("upstream", v) }
