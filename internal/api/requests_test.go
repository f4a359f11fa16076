package api

import (
	"testing"
)

func TestRequestBodyCarriesAction(t *testing.T) {
	parent := "p1"
	tests := []struct {
		req    Request
		action string
		fields []string
	}{
		{GetUploadCredential{FileName: "a", FileType: "t", FileSize: 1}, ActionGetPresignedURL, []string{"fileName", "fileType", "fileSize"}},
		{CommitRecord{ObjectKey: "k"}, ActionCreateFileRecord, []string{"s3Key", "fileName", "fileType", "fileSize", "folderId"}},
		{GetDownloadCredential{ObjectKey: "k"}, ActionGetSignedURL, []string{"s3Key"}},
		{DeleteObject{ObjectKey: "k"}, ActionDeleteFile, []string{"s3Key"}},
		{DeleteRecord{FileID: "f"}, ActionDeleteFileRecord, []string{"fileId"}},
		{CreateFolder{FolderName: "docs", ParentID: &parent}, ActionCreateFolder, []string{"folderName", "parentId"}},
		{ListFolder{}, ActionListFolder, []string{"folderId"}},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			body := requestBody(tt.req)
			if body["action"] != tt.action {
				t.Errorf("action = %v, want %s", body["action"], tt.action)
			}
			for _, f := range tt.fields {
				if _, ok := body[f]; !ok {
					t.Errorf("missing field %s", f)
				}
			}
			if len(body) != len(tt.fields)+1 {
				t.Errorf("body has %d keys, want %d", len(body), len(tt.fields)+1)
			}
		})
	}
}

func TestEnvelopeDecode(t *testing.T) {
	folder := "f1"
	req, err := Envelope{Action: ActionCreateFileRecord, ObjectKey: "k", FileName: "a.pdf", FileSize: 3, FolderID: &folder}.Decode()
	if err != nil {
		t.Fatal(err)
	}
	commit, ok := req.(CommitRecord)
	if !ok || commit.ObjectKey != "k" || commit.FileSize != 3 || *commit.FolderID != "f1" {
		t.Errorf("decoded %#v", req)
	}

	if _, err := (Envelope{}).Decode(); err == nil {
		t.Error("missing action should fail")
	}
	if _, err := (Envelope{Action: "rename-file"}).Decode(); err == nil {
		t.Error("unknown action should fail")
	}
}
