package config

import (
	"github.com/spf13/pflag"
)

// Flags are the command line overrides. A flag only replaces the file value
// when it was given explicitly.
type Flags struct {
	fs *pflag.FlagSet

	ConfigPath string

	source, subdev, antenna, args string
	tcp                           int
	freq, gain, rate, threshold   float64
	pmf, dcblock, noPrint, mdns   bool
	remote, identityKey           string
	metricsListen, mqttBroker     string
	logLevel, logFile             string
}

func NewFlags(fs *pflag.FlagSet) *Flags {
	d := Default()
	f := &Flags{fs: fs}
	fs.StringVarP(&f.ConfigPath, "config", "c", "", "YAML config file")

	fs.StringVarP(&f.source, "source", "s", d.Radio.Source, "Choose source: uhd, osmocom, <filename>, or <ip:port>")
	fs.IntVarP(&f.tcp, "tcp", "t", 0, "Publish reports on this TCP port (0 disables)")
	fs.StringVarP(&f.subdev, "subdev", "R", "", "Select USRP Rx side A or B")
	fs.StringVarP(&f.antenna, "antenna", "A", "", "Select which antenna to use on daughterboard")
	fs.StringVarP(&f.args, "args", "D", "", "Arguments to pass to radio constructor")
	fs.Float64VarP(&f.freq, "freq", "f", d.Radio.Freq, "Receive frequency in Hz")
	fs.Float64VarP(&f.gain, "gain", "g", 0, "RF gain in dB (default: device dependent)")
	fs.Float64VarP(&f.rate, "rate", "r", d.Radio.Rate, "Sample rate in samples per second")
	fs.Float64VarP(&f.threshold, "threshold", "T", d.Radio.Threshold, "Preamble detection threshold in dB above noise")
	fs.BoolVarP(&f.pmf, "pmf", "p", false, "Use pulse matched filtering")
	fs.BoolVarP(&f.dcblock, "dcblock", "d", false, "Use a DC blocking filter")
	fs.StringVarP(&f.remote, "remote", "a", "", "Comma-separated list of relay addresses to subscribe to")
	fs.BoolVarP(&f.noPrint, "no-print", "n", false, "Disable printing decoded reports to stdout")

	fs.StringVar(&f.identityKey, "identity-key", "", "File holding the network identity key (created if missing)")
	fs.BoolVar(&f.mdns, "mdns", false, "Discover other relays on the local network")
	fs.StringVar(&f.metricsListen, "metrics", "", "Serve the control API and prometheus metrics on this address")
	fs.StringVar(&f.mqttBroker, "mqtt-broker", "", "Publish reports to this MQTT broker (tcp://host:1883)")
	fs.StringVar(&f.logLevel, "log-level", d.Logging.Level, "Minimum log level: DEBUG, INFO, WARN, ERROR")
	fs.StringVar(&f.logFile, "log-file", "", "Also write logs to this file, rotated")
	return f
}

// Apply copies every explicitly set flag onto cfg.
func (f *Flags) Apply(cfg *Config) {
	set := f.fs.Changed
	if set("source") {
		cfg.Radio.Source = f.source
	}
	if set("tcp") {
		cfg.Transport.PublishPort = f.tcp
	}
	if set("subdev") {
		cfg.Radio.Subdev = f.subdev
	}
	if set("antenna") {
		cfg.Radio.Antenna = f.antenna
	}
	if set("args") {
		cfg.Radio.Args = f.args
	}
	if set("freq") {
		cfg.Radio.Freq = f.freq
	}
	if set("gain") {
		g := f.gain
		cfg.Radio.Gain = &g
	}
	if set("rate") {
		cfg.Radio.Rate = f.rate
	}
	if set("threshold") {
		cfg.Radio.Threshold = f.threshold
	}
	if set("pmf") {
		cfg.Radio.PMF = f.pmf
	}
	if set("dcblock") {
		cfg.Radio.DCBlock = f.dcblock
	}
	if set("remote") {
		cfg.Transport.Remote = f.remote
	}
	if set("no-print") {
		cfg.Sinks.NoPrint = f.noPrint
	}
	if set("identity-key") {
		cfg.Transport.IdentityKey = f.identityKey
	}
	if set("mdns") {
		cfg.Transport.MDNS = f.mdns
	}
	if set("metrics") {
		cfg.Metrics.Listen = f.metricsListen
	}
	if set("mqtt-broker") {
		cfg.Sinks.MQTT.Broker = f.mqttBroker
	}
	if set("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if set("log-file") {
		cfg.Logging.File = f.logFile
	}
}
