package core

// CID represents binary CID bytes as stored in pack files.
type CID struct {
	Bytes []byte
}

// Key is a logical name for a stored root object, resolved through the
// catalog to the object's content identifier.
type Key struct {
	Namespace string
	Name      string
}
