// Package factory provides a small generic registry used to instantiate modules
// from configuration. A module is described by a type string, the scope it is
// bound to (a vehicle identifier for sinks) and a map of raw settings.
// Factories decode the settings into typed structs and return the concrete
// implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[io.Reader]()
//	reg.Register("file", func(cfg factory.ModuleConfig) (io.Reader, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(cfg.Conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return os.Open(c.Path)
//	})
//	r, err := reg.Create(factory.ModuleConfig{Type: "file", Conf: map[string]any{"path": "foo"}})
package factory
