package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// FormField is one presigned POST form field. S3 evaluates the policy
// against fields in order, so credentials carry them as an ordered list.
type FormField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FormFields decodes either a list of {name, value} pairs or a flat
// {"name": "value"} object. Object members keep their document order.
type FormFields []FormField

// UnmarshalJSON implements json.Unmarshaler.
func (f *FormFields) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = nil
		return nil
	case len(data) > 0 && data[0] == '[':
		var list []FormField
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*f = list
		return nil
	case len(data) > 0 && data[0] == '{':
		return f.decodeObject(data)
	}
	return errors.New("formData must be an array or an object")
}

func (f *FormFields) decodeObject(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	fields := FormFields{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("formData: unexpected key %v", tok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("formData field %s: %w", name, err)
		}
		fields = append(fields, FormField{Name: name, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = fields
	return nil
}

// UploadCredential authorizes exactly one POST of one object.
type UploadCredential struct {
	TransferEndpoint string     `json:"uploadUrl"`
	ObjectKey        string     `json:"s3Key"`
	FormFields       FormFields `json:"formData"`
	ExpiresAt        time.Time  `json:"expiresAt"`
}

// DownloadCredential is a time-limited GET URL for one object.
type DownloadCredential struct {
	SignedURL string    `json:"signedUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the URL is unusable at now, treating it as
// expired skew early.
func (c *DownloadCredential) Expired(now time.Time, skew time.Duration) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return true
	}
	return !now.Add(skew).Before(c.ExpiresAt)
}
