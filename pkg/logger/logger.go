package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Level 日志级别
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

// String 返回日志级别的字符串表示
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel 解析配置中的级别字符串，未知值按 INFO 处理
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	case FATAL:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger 日志记录器
type Logger struct {
	level  Level
	entry  *logrus.Entry
	file   *os.File
	prefix string
}

// Config 日志配置
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	Prefix string `yaml:"prefix"`
}

// NewLogger 创建新的日志记录器
func NewLogger(config *Config) (*Logger, error) {
	base := logrus.New()
	level := ParseLevel(config.Level)
	base.SetLevel(level.logrus())

	switch config.Format {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05.000"})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
	}

	l := &Logger{level: level, prefix: config.Prefix}
	if err := l.setOutput(base, config.Output); err != nil {
		return nil, err
	}
	l.entry = logrus.NewEntry(base)
	if l.prefix != "" {
		l.entry = l.entry.WithField("component", l.prefix)
	}
	return l, nil
}

// setOutput 设置日志输出
func (l *Logger) setOutput(base *logrus.Logger, output string) error {
	switch output {
	case "", "stderr":
		base.SetOutput(os.Stderr)
	case "stdout":
		base.SetOutput(os.Stdout)
	default:
		if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
			return fmt.Errorf("创建日志目录失败: %w", err)
		}
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		l.file = file
		base.SetOutput(file)
	}
	return nil
}

// Debug 记录调试日志
func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// Info 记录信息日志
func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Warn 记录警告日志
func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Error 记录错误日志
func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// Fatal 记录致命错误日志并退出
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.entry.Fatalf(format, args...)
}

// With 返回附带固定字段的子记录器
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{level: l.level, entry: l.entry.WithField(key, value), prefix: l.prefix}
}

// SetLevel 设置日志级别
func (l *Logger) SetLevel(level Level) {
	l.level = level
	l.entry.Logger.SetLevel(level.logrus())
}

// GetLevel 获取日志级别
func (l *Logger) GetLevel() Level {
	return l.level
}

// IsDebug 检查是否为调试级别
func (l *Logger) IsDebug() bool {
	return l.level <= DEBUG
}

// Close 关闭日志记录器
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	l, _ := NewLogger(&Config{Level: "info"})
	defaultLogger.Store(l)
}

// Default 返回进程级默认记录器
func Default() *Logger {
	return defaultLogger.Load()
}

// SetDefault 替换默认记录器
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

// Discard 返回丢弃所有输出的记录器，测试使用
func Discard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{level: FATAL, entry: logrus.NewEntry(base)}
}
