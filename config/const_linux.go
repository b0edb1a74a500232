package config

const (
	_etc = "/usr/local/etc/sheetsync"
	_var = "/usr/local/var/sheetsync"

	DEFAULT_CONFIG      = _etc + "/sheetsync.yaml"
	DEFAULT_WORKDIR     = _var
	DEFAULT_CREDENTIALS = _etc + "/.google/credentials.json"
)
