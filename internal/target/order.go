package target

// Order is one certificate request carved out of a Target by an order plugin
type Order struct {
	// Name distinguishes orders of the same renewal, empty for a single order
	Name   string
	Target Target
}

// Identifiers of the order
func (o Order) Identifiers() []Identifier {
	return o.Target.Identifiers()
}

// DisplayName combines the target name with the order name
func (o Order) DisplayName() string {
	if o.Name == "" {
		return o.Target.DisplayName()
	}
	return o.Target.DisplayName() + " [" + o.Name + "]"
}
