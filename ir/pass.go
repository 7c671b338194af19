package ir

// Pass is a read-only pass over a module's local functions. VisitModule is
// called first, then VisitFunction for every local function in index order,
// then EndModule.
type Pass interface {
	Name() string
	VisitModule(m *Module) error
	VisitFunction(m *Module, f *Function) error
	EndModule(m *Module) error
}

// DoPass runs a read-only pass over the module.
func DoPass(m *Module, p Pass) error {
	if err := p.VisitModule(m); err != nil {
		return err
	}
	for _, fd := range m.funcs {
		f, ok := fd.(*Function)
		if !ok {
			continue
		}
		if err := p.VisitFunction(m, f); err != nil {
			return err
		}
	}
	return p.EndModule(m)
}

// MutPass is a mutating pass. Analysis happens in VisitFunction, which sees
// the whole module read-only and produces staged mutation info; the info is
// then applied by MutateFunction, which only touches the one function.
type MutPass[Info any] interface {
	Name() string
	VisitFunction(m *Module, f *Function) (Info, error)
	MutateFunction(f *Function, info Info) error
}

// DoMutPass runs a mutating pass over every local function of the module.
func DoMutPass[Info any](m *Module, p MutPass[Info]) error {
	for _, fd := range m.funcs {
		f, ok := fd.(*Function)
		if !ok {
			continue
		}
		info, err := p.VisitFunction(m, f)
		if err != nil {
			return err
		}
		if err := p.MutateFunction(f, info); err != nil {
			return err
		}
	}
	return nil
}
