package api

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/provider"
)

// ObjectStorageModule implements @warden/objectstorage.
type ObjectStorageModule struct{}

// NewObjectStorageModule creates the objectstorage module.
func NewObjectStorageModule() *ObjectStorageModule {
	return &ObjectStorageModule{}
}

// Name returns the module name.
func (m *ObjectStorageModule) Name() string {
	return "objectstorage"
}

// Open builds the module table.
func (m *ObjectStorageModule) Open(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "new", L.NewFunction(m.new))
	return mod
}

// new(ctx[, scope]) -> executor
func (m *ObjectStorageModule) new(L *lua.LState) int {
	h := newHandle[provider.ObjectStorageProvider](L, "objectstorage", provider.Context.ObjectStorageProvider)
	p := h.Provider()

	ex := executor(L, h, map[string]lua.LGFunction{
		// objectstorage:list_files([prefix]) -> promise<{object}>
		"list_files": func(L *lua.LState) int {
			prefix := L.OptString(2, "")
			authorize(L, h, "list_files")
			return push(L, h.Op("list_files"), value(func(ctx context.Context) ([]provider.ObjectMetadata, error) {
				return p.ListFiles(ctx, prefix)
			}))
		},

		// objectstorage:file_exists(key) -> promise<bool>
		"file_exists": func(L *lua.LState) int {
			key := checkID(L, 2)
			authorize(L, h, "file_exists")
			return push(L, h.Op("file_exists"), value(func(ctx context.Context) (bool, error) {
				return p.FileExists(ctx, key)
			}))
		},

		// objectstorage:download_file(key) -> promise<string>
		"download_file": func(L *lua.LState) int {
			key := checkID(L, 2)
			authorize(L, h, "download_file")
			return push(L, h.Op("download_file"), value(func(ctx context.Context) ([]byte, error) {
				return p.DownloadFile(ctx, key)
			}))
		},

		// objectstorage:get_file_url(key) -> promise<string>
		"get_file_url": func(L *lua.LState) int {
			key := checkID(L, 2)
			authorize(L, h, "get_file_url")
			return push(L, h.Op("get_file_url"), value(func(ctx context.Context) (string, error) {
				return p.GetFileURL(ctx, key)
			}))
		},

		// objectstorage:upload_file(key, data) -> promise<nil>
		"upload_file": func(L *lua.LState) int {
			key := checkID(L, 2)
			data := []byte(L.CheckString(3))
			authorize(L, h, "upload_file")
			return push(L, h.Op("upload_file"), done(func(ctx context.Context) error {
				return p.UploadFile(ctx, key, data)
			}))
		},

		// objectstorage:delete_file(key) -> promise<nil>
		"delete_file": func(L *lua.LState) int {
			key := checkID(L, 2)
			authorize(L, h, "delete_file")
			return push(L, h.Op("delete_file"), done(func(ctx context.Context) error {
				return p.DeleteFile(ctx, key)
			}))
		},
	})
	ex.RawSetString("bucket_name", lua.LString(p.BucketName()))

	L.Push(ex)
	return 1
}
