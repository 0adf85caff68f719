package datasift

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Interaction is one decoded item from a stream. It is kept as the generic
// JSON structure DataSift sent, since which targets are present varies by
// source and by the definition which matched it. Meta and Geo pull out the
// common parts.
type Interaction map[string]interface{}

// InteractionMeta holds the fields of the "interaction" namespace which every
// source fills in.
type InteractionMeta struct {
	ID        string `mapstructure:"id"`
	Type      string `mapstructure:"type"`
	Content   string `mapstructure:"content"`
	Link      string `mapstructure:"link"`
	CreatedAt string `mapstructure:"created_at"`
	Author    Author `mapstructure:"author"`
}

// Author is the author of an interaction.
type Author struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	Username string `mapstructure:"username"`
	Link     string `mapstructure:"link"`
}

// Meta decodes the "interaction" namespace. Numeric ids are converted to
// strings.
func (i Interaction) Meta() (InteractionMeta, error) {
	var meta InteractionMeta
	raw, ok := i["interaction"]
	if !ok {
		return meta, errors.New("no interaction namespace")
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &meta,
	})
	if err != nil {
		return meta, errors.Wrap(err, "getting decoder")
	}
	return meta, errors.Wrap(dec.Decode(raw), "decoding interaction")
}

// ID returns interaction.id, or "" if there isn't one.
func (i Interaction) ID() string {
	ns, ok := i["interaction"].(map[string]interface{})
	if !ok {
		return ""
	}
	return cast.ToString(ns["id"])
}

// Geo returns the location of the interaction. Coordinates may have been
// sent as numbers or as strings.
func (i Interaction) Geo() (lat, lon float64, ok bool) {
	ns, isMap := i["interaction"].(map[string]interface{})
	if !isMap {
		return 0, 0, false
	}
	geo, isMap := ns["geo"].(map[string]interface{})
	if !isMap {
		return 0, 0, false
	}
	lat, err := cast.ToFloat64E(geo["latitude"])
	if err != nil {
		return 0, 0, false
	}
	lon, err = cast.ToFloat64E(geo["longitude"])
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// IsDeleted reports whether this is a deletion notice rather than an
// interaction. The marker may be at the top level or inside the interaction
// namespace.
func (i Interaction) IsDeleted() bool {
	if truthy(i["deleted"]) {
		return true
	}
	if ns, ok := i["interaction"].(map[string]interface{}); ok {
		return truthy(ns["deleted"])
	}
	return false
}

// HasInteraction reports whether the interaction namespace is present and
// non-empty. Ticks and other bookkeeping frames have none.
func (i Interaction) HasInteraction() bool {
	return truthy(i["interaction"])
}

// truthy is false for the zero values of every JSON type.
func truthy(v interface{}) bool {
	switch vt := v.(type) {
	case nil:
		return false
	case bool:
		return vt
	case float64:
		return vt != 0
	case string:
		return vt != "" && vt != "0"
	case map[string]interface{}:
		return len(vt) > 0
	case []interface{}:
		return len(vt) > 0
	default:
		return true
	}
}
