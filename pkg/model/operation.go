package model

// Operation is a single change carried by a commit. The set of variants is
// closed: Put and Delete. Code that handles operations switches on the
// concrete type and treats anything else as a programming error.
type Operation interface {
	OpKey() ContentKey
	isOperation()
}

// Put stores Payload under Key.
type Put struct {
	Key       ContentKey
	ContentID ContentID
	Type      ContentType
	Payload   []byte
}

// Delete removes Key from the live set.
type Delete struct {
	Key ContentKey
}

func (p Put) OpKey() ContentKey    { return p.Key }
func (d Delete) OpKey() ContentKey { return d.Key }

func (Put) isOperation()    {}
func (Delete) isOperation() {}

// Entry converts a put into the live entry it produces.
func (p Put) Entry() Entry {
	return Entry{
		Key:       p.Key,
		ContentID: p.ContentID,
		Type:      p.Type,
		Payload:   p.Payload,
	}
}

// PutOf converts a live entry back into a put.
func PutOf(e Entry) Put {
	return Put{
		Key:       e.Key,
		ContentID: e.ContentID,
		Type:      e.Type,
		Payload:   e.Payload,
	}
}
