// Package pansdk is the HTTP binding of the remote storage contract for the
// Baidu Pan "xpan" and "pcs" REST APIs.
package pansdk

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gobdpan/bdpan/internal/panerr"
	"github.com/gobdpan/bdpan/internal/storage"
	"github.com/gobdpan/bdpan/internal/version"
	"github.com/google/uuid"
	"github.com/imroc/req/v3"
)

const (
	HeaderUserAgent = "User-Agent"
	HeaderDeviceID  = "X-Bdpan-Device-Id"
	HeaderRange     = "Range"

	xpanFile      = "/file"
	pcsFile       = "/file"
	pcsSuperfile2 = "/superfile2"

	// the content API only serves clients presenting this agent
	pcsUserAgent = "pan.baidu.com"
)

// Client talks to the pan API. It implements storage.Storage.
type Client struct {
	xpan *req.Client
	pcs  *req.Client
	cfg  Config
}

var _ storage.Storage = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		xpan: newReqClient(&cfg, cfg.XpanURL, "bdpan/"+version.Version),
		pcs:  newReqClient(&cfg, cfg.PcsURL, pcsUserAgent),
		cfg:  cfg,
	}, nil
}

func newReqClient(cfg *Config, baseURL, userAgent string) *req.Client {
	c := req.C().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetCommonRetryCount(0).
		SetCommonHeader(HeaderUserAgent, userAgent).
		SetCommonQueryParam("access_token", cfg.AccessToken).
		SetCommonQueryParam("app_id", cfg.AppID).
		SetCommonErrorResult(&pcsError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal).
		OnBeforeRequest(func(_ *req.Client, r *req.Request) error {
			r.SetQueryParam("logid", uuid.NewString())
			return nil
		})
	if cfg.DeviceID != "" {
		c.SetCommonHeader(HeaderDeviceID, cfg.DeviceID)
	}
	return c
}

// Close releases idle connections
func (c *Client) Close() {
	c.xpan.GetTransport().CloseIdleConnections()
	c.pcs.GetTransport().CloseIdleConnections()
}

// Meta looks path up through a search in its parent directory. The API
// cannot stat the root, so "/" is synthesized.
func (c *Client) Meta(ctx context.Context, path string) (*storage.Entry, error) {
	path = storage.CleanPath(path)
	if path == "/" {
		return &storage.Entry{Path: "/", IsDir: true}, nil
	}
	dir, base := storage.Split(path)

	var out ListResponse
	resp, err := c.xpan.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"method":    "search",
			"dir":       dir,
			"key":       base,
			"recursion": "0",
			"num":       "1000",
		}).
		SetSuccessResult(&out).
		Get(xpanFile)
	if err := c.check(resp, err, &out.APIResponse, "meta", path); err != nil {
		return nil, err
	}

	for i := range out.List {
		if storage.CleanPath(out.List[i].Path) == path {
			return out.List[i].Entry(), nil
		}
	}
	return nil, panerr.NewNotFoundError(path)
}

func (c *Client) List(ctx context.Context, dir string, limit, start int) ([]*storage.Entry, error) {
	dir = storage.CleanPath(dir)

	var out ListResponse
	resp, err := c.xpan.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"method": "list",
			"dir":    dir,
			"start":  strconv.Itoa(start),
			"limit":  strconv.Itoa(limit),
			"order":  "name",
		}).
		SetSuccessResult(&out).
		Get(xpanFile)
	if err := c.check(resp, err, &out.APIResponse, "list", dir); err != nil {
		return nil, err
	}

	entries := make([]*storage.Entry, 0, len(out.List))
	for i := range out.List {
		entries = append(entries, out.List[i].Entry())
	}
	return entries, nil
}

func (c *Client) Precreate(ctx context.Context, params *storage.PrecreateParams) (*storage.PrecreateResult, error) {
	path := storage.CleanPath(params.Path)
	blockList, err := jsonMarshal(params.Manifest.BlockMD5s)
	if err != nil {
		return nil, fmt.Errorf("precreate: encode block list: %w", err)
	}

	var out PrecreateResponse
	resp, err := c.xpan.R().
		SetContext(ctx).
		SetQueryParam("method", "precreate").
		SetFormData(map[string]string{
			"path":        path,
			"size":        strconv.FormatUint(params.Manifest.Size, 10),
			"isdir":       "0",
			"autoinit":    "1",
			"rtype":       strconv.Itoa(int(params.Overwrite)),
			"block_list":  string(blockList),
			"content-md5": params.Manifest.ContentMD5,
			"slice-md5":   params.Manifest.SliceMD5,
			"local_ctime": unixString(params.LocalCtime.Unix()),
			"local_mtime": unixString(params.LocalMtime.Unix()),
		}).
		SetSuccessResult(&out).
		Post(xpanFile)
	if err := c.check(resp, err, &out.APIResponse, "precreate", path); err != nil {
		return nil, err
	}

	res := &storage.PrecreateResult{ReturnType: out.ReturnType, UploadID: out.UploadID}
	if out.Info != nil {
		res.Entry = out.Info.Entry()
	}
	return res, nil
}

func (c *Client) UploadPart(ctx context.Context, uploadID, path string, seq int, data []byte) error {
	path = storage.CleanPath(path)

	var out UploadPartResponse
	resp, err := c.pcs.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"method":   "upload",
			"type":     "tmpfile",
			"path":     path,
			"uploadid": uploadID,
			"partseq":  strconv.Itoa(seq),
		}).
		SetFileBytes("file", "part", data).
		SetSuccessResult(&out).
		Post(pcsSuperfile2)
	if err := handleAPIError(resp, err, "upload", path); err != nil {
		return err
	}

	c.cfg.Logger.Debug("part uploaded", "path", path, "seq", seq, "md5", out.MD5)
	return nil
}

func (c *Client) Finalize(ctx context.Context, params *storage.FinalizeParams) (*storage.Entry, error) {
	path := storage.CleanPath(params.Path)
	blockList, err := jsonMarshal(params.Manifest.BlockMD5s)
	if err != nil {
		return nil, fmt.Errorf("create: encode block list: %w", err)
	}

	var out CreateResponse
	resp, err := c.xpan.R().
		SetContext(ctx).
		SetQueryParam("method", "create").
		SetFormData(map[string]string{
			"path":        path,
			"size":        strconv.FormatUint(params.Manifest.Size, 10),
			"isdir":       "0",
			"rtype":       strconv.Itoa(int(params.Overwrite)),
			"uploadid":    params.UploadID,
			"block_list":  string(blockList),
			"local_ctime": unixString(params.LocalCtime.Unix()),
			"local_mtime": unixString(params.LocalMtime.Unix()),
		}).
		SetSuccessResult(&out).
		Post(xpanFile)
	if err := c.check(resp, err, &out.APIResponse, "create", path); err != nil {
		return nil, err
	}

	entry := out.FileInfo.Entry()
	if entry.Path == "/" {
		entry.Path = path
	}
	if !params.LocalMtime.IsZero() {
		entry.Mtime = params.LocalMtime.Truncate(time.Second)
	}
	return entry, nil
}

func (c *Client) Mkdir(ctx context.Context, path string) error {
	path = storage.CleanPath(path)

	var out CreateResponse
	resp, err := c.xpan.R().
		SetContext(ctx).
		SetQueryParam("method", "create").
		SetFormData(map[string]string{
			"path":       path,
			"size":       "0",
			"isdir":      "1",
			"rtype":      "0",
			"block_list": "[]",
		}).
		SetSuccessResult(&out).
		Post(xpanFile)
	return c.check(resp, err, &out.APIResponse, "mkdir", path)
}

func (c *Client) Delete(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	clean := make([]string, len(paths))
	for i, p := range paths {
		clean[i] = storage.CleanPath(p)
	}
	filelist, err := jsonMarshal(clean)
	if err != nil {
		return fmt.Errorf("delete: encode file list: %w", err)
	}

	var out FilemanagerResponse
	resp, err := c.xpan.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"method": "filemanager",
			"opera":  "delete",
		}).
		SetFormData(map[string]string{
			"async":    "0",
			"onnest":   "fail",
			"filelist": string(filelist),
		}).
		SetSuccessResult(&out).
		Post(xpanFile)
	return c.check(resp, err, &out.APIResponse, "delete", strings.Join(clean, ","))
}

// Download opens path from offset. The body is streamed, never buffered.
func (c *Client) Download(ctx context.Context, path string, offset int64) (*storage.DownloadStream, error) {
	path = storage.CleanPath(path)

	r := c.pcs.R().
		SetContext(ctx).
		DisableAutoReadResponse().
		SetQueryParams(map[string]string{
			"method": "download",
			"path":   path,
		})
	if offset > 0 {
		r.SetHeader(HeaderRange, fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := r.Get(pcsFile)
	if err != nil {
		return nil, handleAPIError(resp, err, "download", path)
	}
	if resp.IsErrorState() {
		return nil, streamError(resp, "download", path)
	}

	stream := &storage.DownloadStream{Body: resp.Body, Size: -1}
	if resp.StatusCode == http.StatusPartialContent {
		start, total, ok := parseContentRange(resp.GetHeader("Content-Range"))
		if !ok {
			resp.Body.Close()
			return nil, panerr.NewTransportError("download", fmt.Errorf("bad Content-Range %q", resp.GetHeader("Content-Range")))
		}
		stream.Offset, stream.Size = start, total
	} else if resp.ContentLength >= 0 {
		stream.Size = resp.ContentLength
	}
	return stream, nil
}

// check folds the request error, the HTTP status and the body errno
func (c *Client) check(resp *req.Response, requestErr error, out *APIResponse, op, path string) error {
	if err := handleAPIError(resp, requestErr, op, path); err != nil {
		return err
	}
	return errnoError(op, path, out.Errno, out.ErrMsg)
}

// parseContentRange reads "bytes start-end/total"
func parseContentRange(v string) (int64, int64, bool) {
	v, ok := strings.CutPrefix(v, "bytes ")
	if !ok {
		return 0, 0, false
	}
	span, totalStr, ok := strings.Cut(v, "/")
	if !ok {
		return 0, 0, false
	}
	startStr, _, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	total := int64(-1)
	if totalStr != "*" {
		if total, err = strconv.ParseInt(totalStr, 10, 64); err != nil {
			return 0, 0, false
		}
	}
	return start, total, true
}

func unixString(sec int64) string {
	if sec < 0 {
		sec = 0
	}
	return strconv.FormatInt(sec, 10)
}
