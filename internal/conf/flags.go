package conf

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// viperKeyAnnotation names the flag annotation holding the settings key.
const viperKeyAnnotation = "qcmigrate_viper_key"

// BindFlag marks flag name of flags as overriding the settings key. The
// binding takes effect in BindFlags, so subcommands may share keys without
// overriding each other's flags.
func BindFlag(flags *pflag.FlagSet, name, key string) {
	if err := flags.SetAnnotation(name, viperKeyAnnotation, []string{key}); err != nil {
		panic(fmt.Sprintf("bind flag %q: %v", name, err))
	}
}

// BindFlags binds every flag marked with BindFlag to viper. Call it for the
// command being executed, before Load.
func BindFlags(flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[viperKeyAnnotation]
		if len(keys) == 0 || bindErr != nil {
			return
		}
		if err := viper.BindPFlag(keys[0], f); err != nil {
			bindErr = fmt.Errorf("error binding flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}
