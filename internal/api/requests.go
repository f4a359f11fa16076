package api

import (
	"fmt"

	"github.com/stashbox/stashbox/internal/models"
)

// Wire action names.
const (
	ActionGetPresignedURL  = "get-presigned-url"
	ActionCreateFileRecord = "create-file-record"
	ActionGetSignedURL     = "get-signed-url"
	ActionDeleteFile       = "delete-file"
	ActionDeleteFileRecord = "delete-file-record"
	ActionCreateFolder     = "create-folder"
	ActionListFolder       = "list-folder"
)

// Request is one broker operation. The set of implementations is closed:
// only the types in this file satisfy it.
type Request interface {
	action() string
}

// GetUploadCredential asks for a presigned POST form for one new object.
type GetUploadCredential struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
}

// CommitRecord persists the record for an object that is already stored.
type CommitRecord struct {
	ObjectKey string  `json:"s3Key"`
	FileName  string  `json:"fileName"`
	FileType  string  `json:"fileType"`
	FileSize  int64   `json:"fileSize"`
	FolderID  *string `json:"folderId"`
}

// GetDownloadCredential asks for a signed GET URL.
type GetDownloadCredential struct {
	ObjectKey string `json:"s3Key"`
}

// DeleteObject removes stored bytes.
type DeleteObject struct {
	ObjectKey string `json:"s3Key"`
}

// DeleteRecord removes a file record and returns its object key.
type DeleteRecord struct {
	FileID string `json:"fileId"`
}

// CreateFolder creates a folder under ParentID, or at the top level.
type CreateFolder struct {
	FolderName string  `json:"folderName"`
	ParentID   *string `json:"parentId"`
}

// ListFolder lists one folder, or the top level when FolderID is nil.
type ListFolder struct {
	FolderID *string `json:"folderId"`
}

func (GetUploadCredential) action() string   { return ActionGetPresignedURL }
func (CommitRecord) action() string          { return ActionCreateFileRecord }
func (GetDownloadCredential) action() string { return ActionGetSignedURL }
func (DeleteObject) action() string          { return ActionDeleteFile }
func (DeleteRecord) action() string          { return ActionDeleteFileRecord }
func (CreateFolder) action() string          { return ActionCreateFolder }
func (ListFolder) action() string            { return ActionListFolder }

// Responses, one per action.

// UploadCredentialResponse is the get-presigned-url answer.
type UploadCredentialResponse = models.UploadCredential

// CommitRecordResponse is the create-file-record answer.
type CommitRecordResponse struct {
	FileRecord *models.FileRecord `json:"fileRecord"`
}

// DownloadCredentialResponse is the get-signed-url answer.
type DownloadCredentialResponse = models.DownloadCredential

// SuccessResponse answers delete-file.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// DeleteRecordResponse answers delete-file-record.
type DeleteRecordResponse struct {
	Success   bool   `json:"success"`
	ObjectKey string `json:"s3Key"`
}

// CreateFolderResponse answers create-folder.
type CreateFolderResponse struct {
	Folder *models.ContainerRecord `json:"folder"`
}

// ListFolderResponse answers list-folder.
type ListFolderResponse struct {
	Folders []models.ContainerRecord `json:"folders"`
	Files   []models.FileRecord      `json:"files"`
}

// requestBody flattens r into its wire object: the action name plus the
// variant's fields.
func requestBody(r Request) map[string]interface{} {
	body := map[string]interface{}{"action": r.action()}
	switch req := r.(type) {
	case GetUploadCredential:
		body["fileName"] = req.FileName
		body["fileType"] = req.FileType
		body["fileSize"] = req.FileSize
	case CommitRecord:
		body["s3Key"] = req.ObjectKey
		body["fileName"] = req.FileName
		body["fileType"] = req.FileType
		body["fileSize"] = req.FileSize
		body["folderId"] = req.FolderID
	case GetDownloadCredential:
		body["s3Key"] = req.ObjectKey
	case DeleteObject:
		body["s3Key"] = req.ObjectKey
	case DeleteRecord:
		body["fileId"] = req.FileID
	case CreateFolder:
		body["folderName"] = req.FolderName
		body["parentId"] = req.ParentID
	case ListFolder:
		body["folderId"] = req.FolderID
	default:
		panic(fmt.Sprintf("api: unhandled request type %T", r))
	}
	return body
}

// Envelope is the decoded wire request on the broker side: the action plus
// every field any variant may carry.
type Envelope struct {
	Action     string  `json:"action"`
	FileName   string  `json:"fileName"`
	FileType   string  `json:"fileType"`
	FileSize   int64   `json:"fileSize"`
	ObjectKey  string  `json:"s3Key"`
	FolderID   *string `json:"folderId"`
	FileID     string  `json:"fileId"`
	FolderName string  `json:"folderName"`
	ParentID   *string `json:"parentId"`
}

// Decode converts the envelope into its typed request.
func (e Envelope) Decode() (Request, error) {
	switch e.Action {
	case ActionGetPresignedURL:
		return GetUploadCredential{FileName: e.FileName, FileType: e.FileType, FileSize: e.FileSize}, nil
	case ActionCreateFileRecord:
		return CommitRecord{ObjectKey: e.ObjectKey, FileName: e.FileName, FileType: e.FileType, FileSize: e.FileSize, FolderID: e.FolderID}, nil
	case ActionGetSignedURL:
		return GetDownloadCredential{ObjectKey: e.ObjectKey}, nil
	case ActionDeleteFile:
		return DeleteObject{ObjectKey: e.ObjectKey}, nil
	case ActionDeleteFileRecord:
		return DeleteRecord{FileID: e.FileID}, nil
	case ActionCreateFolder:
		return CreateFolder{FolderName: e.FolderName, ParentID: e.ParentID}, nil
	case ActionListFolder:
		return ListFolder{FolderID: e.FolderID}, nil
	case "":
		return nil, fmt.Errorf("missing action")
	default:
		return nil, fmt.Errorf("unknown action %q", e.Action)
	}
}
