package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures query logging for the paydesk store.
type GormLoggerConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	// RedactedTables never have bound values written to the log.
	RedactedTables []string
}

// DefaultGormLoggerConfig logs slow queries and failures. Checkout rows hold
// buyer contact data, so their values stay out of the log.
func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:          gormlogger.Warn,
		SlowThreshold:  200 * time.Millisecond,
		RedactedTables: []string{"checkout_records"},
	}
}

// GormLogger routes GORM output through the request-scoped zap logger.
// Missing rows are expected lookups here and are never logged as errors.
type GormLogger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
	redacted      map[string]struct{}
}

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	redacted := make(map[string]struct{}, len(cfg.RedactedTables))
	for _, table := range cfg.RedactedTables {
		if table = strings.ToLower(strings.TrimSpace(table)); table != "" {
			redacted[table] = struct{}{}
		}
	}
	return &GormLogger{
		level:         cfg.Level,
		slowThreshold: cfg.SlowThreshold,
		redacted:      redacted,
	}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, zap.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, zap.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, zap.ErrorLevel, msg, data)
}

func (l *GormLogger) message(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.level < min {
		return
	}
	fields := []zap.Field{zap.String("component", "store")}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	if ce := FromContext(ctx).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Trace writes failed statements at error level and slow ones at warn.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	if errors.Is(err, gormlogger.ErrRecordNotFound) {
		err = nil
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlogger.Error:
		l.logQuery(ctx, fc, elapsed, err, zap.ErrorLevel)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		l.logQuery(ctx, fc, elapsed, nil, zap.WarnLevel)
	case l.level >= gormlogger.Info:
		l.logQuery(ctx, fc, elapsed, nil, zap.DebugLevel)
	}
}

// ParamsFilter drops bound values for statements on redacted tables. Ledger
// and snapshot queries keep theirs so capture ids show up in the log.
func (l *GormLogger) ParamsFilter(ctx context.Context, sql string, params ...interface{}) (string, []interface{}) {
	if l.redacts(sql) {
		return sql, nil
	}
	return sql, params
}

func (l *GormLogger) redacts(sql string) bool {
	if len(l.redacted) == 0 {
		return false
	}
	for _, table := range tablesFromSQL(sql) {
		if _, ok := l.redacted[table]; ok {
			return true
		}
	}
	return false
}

func (l *GormLogger) logQuery(ctx context.Context, fc func() (string, int64), elapsed time.Duration, err error, level zapcore.Level) {
	sql, rows := fc()
	fields := []zap.Field{
		zap.String("component", "store"),
		zap.String("operation", operationFromSQL(sql)),
		zap.Strings("tables", tablesFromSQL(sql)),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if ce := FromContext(ctx).Check(level, "store.query"); ce != nil {
		ce.Write(fields...)
	}
}

func operationFromSQL(sql string) string {
	for _, token := range strings.Fields(strings.ToUpper(sql)) {
		token = strings.Trim(token, "();")
		switch token {
		case "SELECT", "INSERT", "UPDATE", "DELETE", "MERGE":
			return token
		}
	}
	return "UNKNOWN"
}

// tablesFromSQL lists the tables named after FROM, INTO, UPDATE or JOIN.
func tablesFromSQL(sql string) []string {
	tokens := strings.Fields(strings.ToLower(sql))
	var tables []string
	for i := 0; i+1 < len(tokens); i++ {
		switch tokens[i] {
		case "from", "into", "update", "join":
		default:
			continue
		}
		table := strings.Trim(tokens[i+1], "`\"();,")
		if dot := strings.LastIndexByte(table, '.'); dot >= 0 {
			table = strings.Trim(table[dot+1:], "`\"")
		}
		if table == "" || table == "select" || containsString(tables, table) {
			continue
		}
		tables = append(tables, table)
	}
	return tables
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

var _ gormlogger.Interface = (*GormLogger)(nil)
