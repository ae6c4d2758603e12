package graphqlapp

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

const defaultMultipartMemory = 32 << 20

// Upload is the value of the GraphQL `Upload` scalar. Uploaded multipart
// parts are substituted into the variables as Upload values, so a resolver
// argument of type Upload receives the raw content of the file.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     []byte
}

// ImplementsGraphQLType maps Upload to the `Upload` scalar.
func (Upload) ImplementsGraphQLType(name string) bool {
	return name == "Upload"
}

// UnmarshalGraphQL accepts an Upload or raw bytes.
func (u *Upload) UnmarshalGraphQL(input interface{}) error {
	switch v := input.(type) {
	case Upload:
		*u = v
	case *Upload:
		*u = *v
	case []byte:
		*u = Upload{Content: v, Size: int64(len(v))}
	case string:
		*u = Upload{Content: []byte(v), Size: int64(len(v))}
	default:
		return fmt.Errorf("wrong type for Upload: %T", input)
	}
	return nil
}

// MarshalJSON omits the content.
func (u Upload) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"filename":    u.Filename,
		"contentType": u.ContentType,
		"size":        u.Size,
	})
}

func parseMultipartRequest(r *http.Request) (*Request, error) {
	if err := r.ParseMultipartForm(defaultMultipartMemory); err != nil {
		return nil, bodyError(err)
	}
	form := r.MultipartForm
	defer form.RemoveAll()

	value := func(name string) string {
		if v := form.Value[name]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	files := make(map[string]Upload, len(form.File))
	for name, headers := range form.File {
		if len(headers) == 0 {
			continue
		}
		upload, err := readUpload(headers[0])
		if err != nil {
			return nil, bodyError(err)
		}
		files[name] = upload
	}

	var (
		req *Request
		err error
	)
	if operations := value("operations"); operations != "" {
		req, err = parseOperationsForm(operations, value("map"))
	} else {
		req, err = parseFieldsForm(value)
	}
	if err != nil {
		return nil, err
	}
	req.Files = files

	patches := make(map[string]interface{})
	for name, paths := range req.FileMap {
		upload, ok := files[name]
		if !ok {
			return nil, badRequest(fmt.Sprintf("Missing file for file map entry %q", name), nil)
		}
		for _, path := range paths {
			patches[path] = upload
		}
	}

	req.Variables, err = applyPatches(req.Variables, patches)
	if err != nil {
		return nil, badRequest(invalidFileMapMessage, err)
	}

	return req, nil
}

// parseFieldsForm reads the `query`, `variables`, `operationName` and
// `file_map` form fields. File map paths are relative to the variables.
func parseFieldsForm(value func(string) string) (*Request, error) {
	variables, err := decodeVariables(value("variables"))
	if err != nil {
		return nil, err
	}

	fileMap := make(map[string][]string)
	if raw := value("file_map"); strings.TrimSpace(raw) != "" {
		var entries map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, badRequest(invalidFileMapMessage, err)
		}
		for name, entry := range entries {
			paths, err := decodePaths(entry)
			if err != nil {
				return nil, badRequest(invalidFileMapMessage, err)
			}
			fileMap[name] = paths
		}
	}

	return &Request{
		Query:         value("query"),
		OperationName: value("operationName"),
		Variables:     variables,
		FileMap:       fileMap,
	}, nil
}

// parseOperationsForm reads the `operations` and `map` fields of the GraphQL
// multipart request convention, where map paths start with "variables.".
func parseOperationsForm(operations, mapping string) (*Request, error) {
	if strings.HasPrefix(strings.TrimSpace(operations), "[") {
		return nil, badRequest(invalidBodyMessage, fmt.Errorf("batched operations are not supported"))
	}

	var ops struct {
		Query         string          `json:"query"`
		OperationName string          `json:"operationName"`
		Variables     json.RawMessage `json:"variables"`
	}
	if err := json.Unmarshal([]byte(operations), &ops); err != nil {
		return nil, badRequest(invalidBodyMessage, err)
	}
	variables, err := decodeRawVariables(ops.Variables)
	if err != nil {
		return nil, err
	}

	fileMap := make(map[string][]string)
	if strings.TrimSpace(mapping) != "" {
		var entries map[string][]string
		if err := json.Unmarshal([]byte(mapping), &entries); err != nil {
			return nil, badRequest(invalidFileMapMessage, err)
		}
		for name, paths := range entries {
			for _, path := range paths {
				rel, ok := strings.CutPrefix(path, "variables.")
				if !ok {
					return nil, badRequest(invalidFileMapMessage, fmt.Errorf("path %q is not in variables", path))
				}
				fileMap[name] = append(fileMap[name], rel)
			}
		}
	}

	return &Request{
		Query:         ops.Query,
		OperationName: ops.OperationName,
		Variables:     variables,
		FileMap:       fileMap,
	}, nil
}

func decodePaths(raw json.RawMessage) ([]string, error) {
	var path string
	if err := json.Unmarshal(raw, &path); err == nil {
		return []string{path}, nil
	}
	var paths []string
	if err := json.Unmarshal(raw, &paths); err != nil {
		return nil, fmt.Errorf("file map entry must be a path or a list of paths: %w", err)
	}
	return paths, nil
}

func readUpload(header *multipart.FileHeader) (Upload, error) {
	f, err := header.Open()
	if err != nil {
		return Upload{}, fmt.Errorf("unable to open part %q: %w", header.Filename, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return Upload{}, fmt.Errorf("unable to read part %q: %w", header.Filename, err)
	}

	return Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        int64(len(content)),
		Content:     content,
	}, nil
}

// applyPatches sets each patch value at its path inside variables, replacing
// whatever placeholder is found there. Paths are dotted and may index lists
// ("files.0" or "files[0]").
func applyPatches(variables map[string]interface{}, patches map[string]interface{}) (map[string]interface{}, error) {
	if len(patches) == 0 {
		return variables, nil
	}
	if variables == nil {
		variables = make(map[string]interface{})
	}

	paths := make([]string, 0, len(patches))
	for path := range patches {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		segments := splitPath(path)
		if len(segments) == 0 {
			return nil, fmt.Errorf("empty path")
		}
		if err := setPath(variables, segments, patches[path]); err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", path, err)
		}
	}

	return variables, nil
}

func splitPath(path string) []string {
	path = strings.NewReplacer("[", ".", "]", "").Replace(path)
	var segments []string
	for _, s := range strings.Split(path, ".") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func setPath(container interface{}, segments []string, value interface{}) error {
	key, last := segments[0], len(segments) == 1

	switch c := container.(type) {
	case map[string]interface{}:
		if last {
			c[key] = value
			return nil
		}
		next, ok := c[key]
		if !ok || next == nil {
			return fmt.Errorf("segment %q not found", key)
		}
		return setPath(next, segments[1:], value)
	case []interface{}:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(c) {
			return fmt.Errorf("invalid list index %q", key)
		}
		if last {
			c[i] = value
			return nil
		}
		return setPath(c[i], segments[1:], value)
	default:
		return fmt.Errorf("cannot traverse %T at segment %q", container, key)
	}
}
