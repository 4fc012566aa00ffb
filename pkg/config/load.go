package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are not an error; the plant hosts usually set
// the environment directly.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			log.Printf("⚠️  Failed to load %s: %v", f, err)
		}
	}
}

// Bind fills every flag that was not set on the command line from, in order,
// the environment (BIOGAS_<FLAG_NAME>) and the optional config file. Flags
// explicitly given on the command line always win.
func Bind(flags *pflag.FlagSet, configFile string) error {
	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file '%s': %w", configFile, err)
		}

		valid := make(map[string]bool)
		flags.VisitAll(func(f *pflag.Flag) {
			valid[f.Name] = true
		})
		for _, key := range v.AllKeys() {
			if !valid[key] {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		var value string
		if f.Value.Type() == "stringSlice" {
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		} else {
			value = v.GetString(f.Name)
		}
		if err := f.Value.Set(value); err != nil {
			flagErr = fmt.Errorf("invalid value %q for %s: %w", value, f.Name, err)
		}
	})
	return flagErr
}
