package types

type HashType string

const (
	HashTypeData  HashType = "data"
	HashTypeType  HashType = "type"
	HashTypeData1 HashType = "data1"
	HashTypeData2 HashType = "data2"
)

func (h HashType) Valid() bool {
	switch h {
	case HashTypeData, HashTypeType, HashTypeData1, HashTypeData2:
		return true
	}
	return false
}

// Script identifies a lock or type program.
type Script struct {
	CodeHash string   `json:"code_hash"`
	HashType HashType `json:"hash_type"`
	Args     string   `json:"args"`
}

// Equal compares scripts byte for byte, ignoring hex letter case.
func (s Script) Equal(o Script) bool {
	return s.HashType == o.HashType &&
		NormalizeHex(s.CodeHash) == NormalizeHex(o.CodeHash) &&
		NormalizeHex(s.Args) == NormalizeHex(o.Args)
}

// Normalized returns a copy with lower-case, 0x-prefixed hex fields.
func (s Script) Normalized() Script {
	return Script{
		CodeHash: NormalizeHex(s.CodeHash),
		HashType: s.HashType,
		Args:     NormalizeHex(s.Args),
	}
}

func (s Script) ArgsLen() int {
	return HexByteLen(s.Args)
}

// Len is the script length used by the indexer's script_len_range filter:
// a 32 byte code hash, one hash type byte and the raw args.
func (s Script) Len() int {
	return 33 + s.ArgsLen()
}

// ScriptLen is Len for an optional script; a missing script has length 0.
func ScriptLen(s *Script) int {
	if s == nil {
		return 0
	}
	return s.Len()
}
