package panfake

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/gobdpan/bdpan/internal/panerr"
	"github.com/gobdpan/bdpan/internal/pansdk"
	"github.com/gobdpan/bdpan/internal/storage"
)

const keyRequestID = "panfake.request_id"

var requestSeq atomic.Int64

// fileForm is the form of precreate and create calls
type fileForm struct {
	Path       string `form:"path"`
	Size       uint64 `form:"size"`
	IsDir      int    `form:"isdir"`
	Rtype      int    `form:"rtype"`
	BlockList  string `form:"block_list"`
	ContentMD5 string `form:"content-md5"`
	SliceMD5   string `form:"slice-md5"`
	UploadID   string `form:"uploadid"`
	LocalCtime int64  `form:"local_ctime"`
	LocalMtime int64  `form:"local_mtime"`
}

func (f *fileForm) manifest() (*storage.Manifest, error) {
	m := &storage.Manifest{
		Size:       f.Size,
		ContentMD5: f.ContentMD5,
		SliceMD5:   f.SliceMD5,
	}
	if f.BlockList != "" {
		if err := binding.JSON.BindBody([]byte(f.BlockList), &m.BlockMD5s); err != nil {
			return nil, fmt.Errorf("block_list: %w", err)
		}
	}
	return m, nil
}

func (s *Server) xpanFile(ctx *gin.Context) {
	ctx.Set(keyRequestID, requestSeq.Add(1))

	switch method := ctx.Query("method"); method {
	case "list":
		s.list(ctx)
	case "search":
		s.search(ctx)
	case "precreate":
		s.precreate(ctx)
	case "create":
		s.create(ctx)
	case "filemanager":
		s.filemanager(ctx)
	default:
		abortXpan(ctx, errnoInvalidParam, fmt.Sprintf("unknown method %q", method))
	}
}

func (s *Server) list(ctx *gin.Context) {
	dir := ctx.DefaultQuery("dir", "/")
	start, _ := strconv.Atoi(ctx.DefaultQuery("start", "0"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "1000"))
	if start < 0 || limit <= 0 {
		abortXpan(ctx, errnoInvalidParam, "bad start or limit")
		return
	}

	entries, err := s.store.List(ctx.Request.Context(), dir, limit, start)
	if err != nil {
		s.xpanError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &pansdk.ListResponse{
		APIResponse: pansdk.APIResponse{RequestID: requestID(ctx)},
		List:        fileInfos(entries),
	})
}

// search only supports the exact, non-recursive lookups the client issues
func (s *Server) search(ctx *gin.Context) {
	dir := storage.CleanPath(ctx.DefaultQuery("dir", "/"))
	key := ctx.Query("key")
	if key == "" {
		abortXpan(ctx, errnoInvalidParam, "key is required")
		return
	}

	res := &pansdk.ListResponse{
		APIResponse: pansdk.APIResponse{RequestID: requestID(ctx)},
		List:        []pansdk.FileInfo{},
	}
	entry, err := s.store.Meta(ctx.Request.Context(), storage.Join(dir, key))
	switch {
	case err == nil:
		res.List = append(res.List, pansdk.NewFileInfo(entry))
	case !panerr.IsNotFound(err):
		s.xpanError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, res)
}

func (s *Server) precreate(ctx *gin.Context) {
	var form fileForm
	if err := ctx.ShouldBindWith(&form, binding.Form); err != nil {
		abortXpan(ctx, errnoInvalidParam, err.Error())
		return
	}
	manifest, err := form.manifest()
	if err != nil {
		abortXpan(ctx, errnoInvalidParam, err.Error())
		return
	}

	res, err := s.store.Precreate(ctx.Request.Context(), &storage.PrecreateParams{
		Path:       form.Path,
		Manifest:   manifest,
		Overwrite:  storage.OverwriteType(form.Rtype),
		LocalCtime: unixTime(form.LocalCtime),
		LocalMtime: unixTime(form.LocalMtime),
	})
	if err != nil {
		s.xpanError(ctx, err)
		return
	}

	out := &pansdk.PrecreateResponse{
		APIResponse: pansdk.APIResponse{RequestID: requestID(ctx)},
		Path:        storage.CleanPath(form.Path),
		UploadID:    res.UploadID,
		ReturnType:  res.ReturnType,
		BlockList:   []int{},
	}
	if res.Rapid() {
		if res.Entry != nil {
			info := pansdk.NewFileInfo(res.Entry)
			out.Info = &info
		}
	} else {
		// every block is requested
		for i := range manifest.BlockMD5s {
			out.BlockList = append(out.BlockList, i)
		}
	}
	ctx.PureJSON(http.StatusOK, out)
}

func (s *Server) create(ctx *gin.Context) {
	var form fileForm
	if err := ctx.ShouldBindWith(&form, binding.Form); err != nil {
		abortXpan(ctx, errnoInvalidParam, err.Error())
		return
	}

	if form.IsDir == 1 {
		if err := s.store.Mkdir(ctx.Request.Context(), form.Path); err != nil {
			s.xpanError(ctx, err)
			return
		}
		ctx.PureJSON(http.StatusOK, &pansdk.CreateResponse{
			APIResponse: pansdk.APIResponse{RequestID: requestID(ctx)},
			FileInfo: pansdk.FileInfo{
				Path:  storage.CleanPath(form.Path),
				IsDir: 1,
			},
		})
		return
	}

	manifest, err := form.manifest()
	if err != nil {
		abortXpan(ctx, errnoInvalidParam, err.Error())
		return
	}
	entry, err := s.store.Finalize(ctx.Request.Context(), &storage.FinalizeParams{
		Path:       form.Path,
		UploadID:   form.UploadID,
		Manifest:   manifest,
		Overwrite:  storage.OverwriteType(form.Rtype),
		LocalCtime: unixTime(form.LocalCtime),
		LocalMtime: unixTime(form.LocalMtime),
	})
	if err != nil {
		s.xpanError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &pansdk.CreateResponse{
		APIResponse: pansdk.APIResponse{RequestID: requestID(ctx)},
		FileInfo:    pansdk.NewFileInfo(entry),
	})
}

func (s *Server) filemanager(ctx *gin.Context) {
	if opera := ctx.Query("opera"); opera != "delete" {
		abortXpan(ctx, errnoInvalidParam, fmt.Sprintf("unsupported opera %q", opera))
		return
	}

	var paths []string
	if err := binding.JSON.BindBody([]byte(ctx.PostForm("filelist")), &paths); err != nil {
		abortXpan(ctx, errnoInvalidParam, "filelist: "+err.Error())
		return
	}

	if err := s.store.Delete(ctx.Request.Context(), paths); err != nil {
		s.xpanError(ctx, err)
		return
	}

	res := &pansdk.FilemanagerResponse{APIResponse: pansdk.APIResponse{RequestID: requestID(ctx)}}
	for _, p := range paths {
		res.Info = append(res.Info, struct {
			Errno int    `json:"errno"`
			Path  string `json:"path"`
		}{Path: p})
	}
	ctx.PureJSON(http.StatusOK, res)
}

func (s *Server) superfile2(ctx *gin.Context) {
	ctx.Set(keyRequestID, requestSeq.Add(1))

	if method := ctx.Query("method"); method != "upload" {
		abortPcs(ctx, http.StatusBadRequest, errnoInvalidParam, fmt.Sprintf("unknown method %q", method))
		return
	}
	seq, err := strconv.Atoi(ctx.Query("partseq"))
	if err != nil || seq < 0 {
		abortPcs(ctx, http.StatusBadRequest, errnoInvalidParam, "bad partseq")
		return
	}

	fh, err := ctx.FormFile("file")
	if err != nil {
		abortPcs(ctx, http.StatusBadRequest, errnoInvalidParam, "file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		abortPcs(ctx, http.StatusInternalServerError, errnoInternal, err.Error())
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		abortPcs(ctx, http.StatusInternalServerError, errnoInternal, err.Error())
		return
	}

	err = s.store.UploadPart(ctx.Request.Context(), ctx.Query("uploadid"), ctx.Query("path"), seq, data)
	if err != nil {
		s.pcsError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &pansdk.UploadPartResponse{
		MD5:       md5Hex(data),
		RequestID: requestID(ctx),
	})
}

func (s *Server) pcsFile(ctx *gin.Context) {
	ctx.Set(keyRequestID, requestSeq.Add(1))

	if method := ctx.Query("method"); method != "download" {
		abortPcs(ctx, http.StatusBadRequest, errnoInvalidParam, fmt.Sprintf("unknown method %q", method))
		return
	}

	offset, ok := parseRange(ctx.GetHeader("Range"))
	if !ok {
		abortPcs(ctx, http.StatusRequestedRangeNotSatisfiable, errnoInvalidParam, "unsupported range")
		return
	}

	stream, err := s.store.Download(ctx.Request.Context(), ctx.Query("path"), offset)
	if err != nil {
		s.pcsError(ctx, err)
		return
	}
	defer stream.Body.Close()

	status := http.StatusOK
	length := stream.Size
	headers := map[string]string{"Accept-Ranges": "bytes"}
	if stream.Offset > 0 {
		status = http.StatusPartialContent
		length = stream.Size - stream.Offset
		headers["Content-Range"] = fmt.Sprintf("bytes %d-%d/%d", stream.Offset, stream.Size-1, stream.Size)
	}
	ctx.DataFromReader(status, length, "application/octet-stream", stream.Body, headers)
}

// parseRange reads the "bytes=K-" form. An absent header is offset 0.
func parseRange(v string) (int64, bool) {
	if v == "" {
		return 0, true
	}
	rng, ok := strings.CutPrefix(v, "bytes=")
	if !ok {
		return 0, false
	}
	start, end, ok := strings.Cut(rng, "-")
	if !ok || end != "" {
		return 0, false
	}
	n, err := strconv.ParseInt(start, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func fileInfos(entries []*storage.Entry) []pansdk.FileInfo {
	out := make([]pansdk.FileInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, pansdk.NewFileInfo(e))
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
