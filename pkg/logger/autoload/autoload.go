// Package autoload configures the global zerolog logger from LOG_* env vars on import.
package autoload

import (
	configx "github.com/tanpawarit/chative-experts/pkg/config"
	logx "github.com/tanpawarit/chative-experts/pkg/logger"
)

func init() {
	conf, err := configx.New[logx.Config]("LOG")
	if err != nil {
		logx.Init()
		return
	}
	logx.Init(*conf)
}
