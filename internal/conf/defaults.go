// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "TrayVision-Go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/trayvision.log")

	// Decision policy thresholds, tuned per deployment
	viper.SetDefault("recognition.unknowndistancethreshold", 0.35)
	viper.SetDefault("recognition.marginthreshold", 0.03)
	viper.SetDefault("recognition.topk", 5)
	viper.SetDefault("recognition.overlapblockthreshold", 0.25)
	viper.SetDefault("recognition.detectorconfidence", 0.25)
	viper.SetDefault("recognition.mockmode", false)

	viper.SetDefault("session.attemptlimit", 3)
	viper.SetDefault("session.timeout", "30s")

	viper.SetDefault("worker.id", "")
	viper.SetDefault("worker.pollinterval", "2s")
	viper.SetDefault("worker.report.enabled", false)
	viper.SetDefault("worker.report.url", "")
	viper.SetDefault("worker.report.timeout", "3s")

	viper.SetDefault("cctv.fps", 30)
	viper.SetDefault("cctv.cliphalfwindowsec", 5)
	viper.SetDefault("cctv.fall.enabled", true)
	viper.SetDefault("cctv.fall.minconsecutiveframes", 2)
	viper.SetDefault("cctv.fall.cooldown", "30s")
	viper.SetDefault("cctv.fall.threshold", 1.0)
	viper.SetDefault("cctv.violence.enabled", true)
	viper.SetDefault("cctv.violence.minconsecutiveframes", 4)
	viper.SetDefault("cctv.violence.cooldown", "30s")
	viper.SetDefault("cctv.violence.threshold", 0.4)
	viper.SetDefault("cctv.mobilityaid.enabled", true)
	viper.SetDefault("cctv.mobilityaid.minconsecutiveframes", 3)
	viper.SetDefault("cctv.mobilityaid.cooldown", "60s")
	viper.SetDefault("cctv.mobilityaid.threshold", 0.5)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "trayvision.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "trayvision")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "trayvision")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "trayvision/events")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.retain", false)
	viper.SetDefault("mqtt.connecttimeout", "10s")
	viper.SetDefault("mqtt.publishtimeout", "5s")

	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.urls", []string{})

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.adminkey", "")
	viper.SetDefault("webserver.debug", false)

	viper.SetDefault("metrics.enabled", true)
}
