package ir

import "testing"

func TestMetadataRoundtrip(t *testing.T) {
	m := NewModule(DefaultModuleConf())

	var meta Metadata
	if !meta.IsEmpty() {
		t.Error("zero metadata must be empty")
	}

	fn := m.FuncT([]*Type{m.Int32T()}, []*Type{m.Int32T()})
	meta.SetType(KeyTy, fn)
	meta.SetType(KeyFrom, m.Float32T())
	meta.SetBWS(KeyBWS, U16)
	meta.SetBlock(KeyParent, BlockID(3))
	meta.SetInt(KeyLoopDepth, 2)

	if got, ok := meta.Type(KeyTy); !ok || got != fn {
		t.Errorf("Type(KeyTy) = %v, %v", got, ok)
	}
	if got, ok := meta.Type(KeyFrom); !ok || got != m.Float32T() {
		t.Errorf("Type(KeyFrom) = %v, %v", got, ok)
	}
	if got, ok := meta.BWS(KeyBWS); !ok || got != U16 {
		t.Errorf("BWS(KeyBWS) = %v, %v", got, ok)
	}
	if got, ok := meta.Block(KeyParent); !ok || got != 3 {
		t.Errorf("Block(KeyParent) = %v, %v", got, ok)
	}
	if got, ok := meta.Int(KeyLoopDepth); !ok || got != 2 {
		t.Errorf("Int(KeyLoopDepth) = %v, %v", got, ok)
	}
}

func TestMetadataOverwrite(t *testing.T) {
	var meta Metadata
	meta.SetInt(KeyLoopDepth, 1)
	meta.SetInt(KeyLoopDepth, 5)
	if got, _ := meta.Int(KeyLoopDepth); got != 5 {
		t.Errorf("overwrite: got %d, want 5", got)
	}
	if len(meta.nodes) != 1 {
		t.Errorf("overwrite must not grow the table, got %d nodes", len(meta.nodes))
	}
}

func TestMetadataMissingKey(t *testing.T) {
	var meta Metadata
	if _, ok := meta.Type(KeyTy); ok {
		t.Error("missing key must report !ok")
	}
	if _, ok := meta.Int(KeyLoopDepth); ok {
		t.Error("missing key must report !ok")
	}
}

func TestMetadataClone(t *testing.T) {
	var meta Metadata
	meta.SetInt(KeyLoopDepth, 1)

	clone := meta.Clone()
	clone.SetInt(KeyLoopDepth, 9)

	if got, _ := meta.Int(KeyLoopDepth); got != 1 {
		t.Errorf("clone must be independent, original changed to %d", got)
	}
}

func TestMetadataReset(t *testing.T) {
	var meta Metadata
	meta.SetBWS(KeyBWS, S8)
	meta.Reset()
	if !meta.IsEmpty() {
		t.Error("reset must empty the table")
	}
}
