package logger

import (
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// pahoWriter satisfies paho's mqtt.Logger and forwards lines into zerolog
// at a fixed level.
type pahoWriter struct {
	logger *Logger
	level  zerolog.Level
}

func (w pahoWriter) Println(v ...interface{}) {
	w.logger.Logger.WithLevel(w.level).Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (w pahoWriter) Printf(format string, v ...interface{}) {
	w.logger.Logger.WithLevel(w.level).Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// RoutePahoLogs sends the paho client's internal error and warning output
// through l. Debug output stays disabled; it is far too chatty.
func RoutePahoLogs(l *Logger) {
	paho := l.WithComponent("paho")
	mqtt.CRITICAL = pahoWriter{logger: paho, level: zerolog.ErrorLevel}
	mqtt.ERROR = pahoWriter{logger: paho, level: zerolog.ErrorLevel}
	mqtt.WARN = pahoWriter{logger: paho, level: zerolog.WarnLevel}
}
