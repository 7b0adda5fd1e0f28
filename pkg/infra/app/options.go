package app

import (
	"github.com/spf13/pflag"
)

// CliOptions is implemented by the options struct of a command.
type CliOptions interface {
	// Flags returns the command flags grouped by section.
	Flags() NamedFlagSets
	// Complete fills in defaults that depend on other values.
	Complete() error
	// Validate validates the completed options.
	Validate() error
}

// NamedFlagSets stores named flag sets in the order they were requested.
type NamedFlagSets struct {
	Order    []string
	FlagSets map[string]*pflag.FlagSet
}

// FlagSet returns the flag set with the given name, creating it on first use.
func (nfs *NamedFlagSets) FlagSet(name string) *pflag.FlagSet {
	if nfs.FlagSets == nil {
		nfs.FlagSets = map[string]*pflag.FlagSet{}
	}
	if _, ok := nfs.FlagSets[name]; !ok {
		nfs.FlagSets[name] = pflag.NewFlagSet(name, pflag.ExitOnError)
		nfs.Order = append(nfs.Order, name)
	}
	return nfs.FlagSets[name]
}
