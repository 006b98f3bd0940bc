package schedule

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/poolboy/internal/config"
)

// Watch reloads the configuration whenever the config file v read from
// changes. It does nothing when v has no config file.
func (s *Service) Watch(v *viper.Viper) {
	file := v.ConfigFileUsed()
	if file == "" {
		s.logger.Debug("no config file in use, configuration reload disabled")
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		s.Reload(e, func() (*config.Config, error) { return config.LoadFrom(v) })
	})
	v.WatchConfig()
	s.logger.Info("watching config file for changes", "file", file)
}
