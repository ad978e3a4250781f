package types

// StoreDataRequest registers a new data reference.
type StoreDataRequest struct {
	Reference string  `json:"reference"`
	KeyHash   *string `json:"key_hash,omitempty"`
}

type StoreDataResponse struct {
	ID uint64 `json:"id"`
}

// GrantAccessRequest carries the optional escrowed key for a grantee.
// Record id and grantee come from the route.
type GrantAccessRequest struct {
	EncryptedKey *string `json:"encrypted_key,omitempty"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

// AccessResult is what a successful access-data returns.  Key is the
// grantee's escrowed key; it is always nil for the owner.
type AccessResult struct {
	Reference string  `json:"reference"`
	Key       *string `json:"key"`
}

type KeyHashResponse struct {
	KeyHash *string `json:"key_hash"`
}

// AccessLog reports how often Grantee has read RecordID.
type AccessLog struct {
	RecordID    uint64    `json:"record_id"`
	Grantee     Principal `json:"grantee"`
	AccessCount uint64    `json:"access_count"`
}

// RecordInfo is the public part of a record.  The key hash is never included.
type RecordInfo struct {
	ID        uint64    `json:"id"`
	Owner     Principal `json:"owner"`
	Reference string    `json:"reference"`
}

// ErrorResponse is the body of every failed HTTP call.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    uint32 `json:"code,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
