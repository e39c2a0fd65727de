package models

import "time"

// FileRecallInstance is a multi-tenant document index bound to one
// upstream vector-store provider credential (§3, §4.7).
type FileRecallInstance struct {
	ID             string    `json:"id"` // slug, ^[a-z0-9](-?[a-z0-9]+)*$
	DisplayName    string    `json:"display_name"`
	Credential     string    `json:"-"` // upstream API credential, never serialized
	VectorStoreID  string    `json:"vector_store_id,omitempty"`
	AccessToken    string    `json:"access_token,omitempty"`
	FileCount      int       `json:"file_count"`
	TotalBytes     int64     `json:"total_bytes"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FileRecallFileStatus is the upload lifecycle state of one file (§4.7).
type FileRecallFileStatus string

const (
	FileRecallProcessing FileRecallFileStatus = "processing"
	FileRecallReady      FileRecallFileStatus = "ready"
	FileRecallError      FileRecallFileStatus = "error"
)

// FileRecallFile is one uploaded document, unique per (instance, content
// hash) for content-addressed dedup (§3, §4.7).
type FileRecallFile struct {
	ID                string                `json:"id"`
	InstanceID        string                `json:"instance_id"`
	OriginalFilename  string                `json:"original_filename"`
	StorageName       string                `json:"storage_name"`
	ContentSHA256     string                `json:"content_sha256"`
	Size              int64                 `json:"size"`
	MediaType         string                `json:"media_type"`
	UpstreamFileID    string                `json:"upstream_file_id,omitempty"`
	UpstreamVectorID  string                `json:"upstream_vector_id,omitempty"`
	Status            FileRecallFileStatus  `json:"status"`
	ErrorText         string                `json:"error_text,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}
