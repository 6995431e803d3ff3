package cfg

import "github.com/mitchellh/mapstructure"

// DecodeLSMHints decodes a loosely-typed map of recognised LSM options
// (spec.md §6) into an LSMConfig, following the teacher's use of
// mitchellh/mapstructure in cfg/config_util.go to turn user-supplied
// maps into strongly-typed config structs.
func DecodeLSMHints(raw map[string]any, out *LSMConfig) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}
