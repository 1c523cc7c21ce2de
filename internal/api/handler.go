// internal/api/handler.go
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Slade66/resumable-fetcher/internal/downloader"
	"github.com/Slade66/resumable-fetcher/internal/queue"
	"github.com/Slade66/resumable-fetcher/internal/record"
	"github.com/Slade66/resumable-fetcher/internal/state"
	"github.com/Slade66/resumable-fetcher/pkg/fileinfo"
	"github.com/Slade66/resumable-fetcher/pkg/task"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Options 是 Server 的依赖，Producer 为空时 /api/enqueue 不可用
type Options struct {
	Downloader  *downloader.Downloader
	Gateway     *record.Gateway
	Producer    *queue.Producer
	Client      *http.Client
	DownloadDir string
}

// Server 把 Downloader 暴露为 HTTP 接口
type Server struct {
	opts    Options
	tracker *Tracker
}

func NewServer(opts Options) *Server {
	s := &Server{opts: opts, tracker: NewTracker()}
	opts.Downloader.AddObserver(s.tracker)
	return s
}

// Register 把路由挂到 r 上
func (s *Server) Register(r gin.IRouter) {
	api := r.Group("/api")
	{
		api.POST("/download", s.download)
		api.POST("/enqueue", s.enqueue)
		api.GET("/tasks", s.listTasks)
		api.GET("/tasks/:id", s.getTask)
		api.POST("/tasks/:id/pause", s.pauseTask)
		api.POST("/tasks/:id/resume", s.resumeTask)
		api.POST("/tasks/:id/restart", s.restartTask)
		api.POST("/tasks/:id/cancel", s.cancelTask)
		api.DELETE("/tasks/:id", s.deleteTask)
		api.POST("/start-all", s.startAll)
		api.POST("/pause-all", s.pauseAll)
		api.PUT("/settings", s.updateSettings)
		api.DELETE("/records", s.clearRecords)
		api.GET("/records/watch", s.watchRecords)
		api.GET("/probe", s.probe)
	}
}

type downloadRequest struct {
	URL string `json:"url" binding:"required"`
	Dir string `json:"dir"`
}

func (s *Server) bindRequest(c *gin.Context) (downloadRequest, bool) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求: " + err.Error()})
		return req, false
	}
	if req.Dir == "" {
		req.Dir = s.opts.DownloadDir
	}
	return req, true
}

// download 在本进程内创建任务，创建是异步的
func (s *Server) download(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}
	if _, err := s.opts.Downloader.Submit(req.URL, req.Dir); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message":    "任务已接收，正在创建...",
		"request_id": uuid.NewString(),
	})
}

// enqueue 把请求投递给 Worker
func (s *Server) enqueue(c *gin.Context) {
	if s.opts.Producer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未配置消息队列"})
		return
	}
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}
	t := task.New(req.URL, req.Dir)
	if _, err := s.opts.Producer.Enqueue(c.Request.Context(), t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message": "任务已成功接收，正在排队等待处理...",
		"task_id": t.ID.String(),
	})
}

type taskView struct {
	record.Record
	StateName string    `json:"state_name"`
	Progress  *Progress `json:"progress,omitempty"`
}

func (s *Server) view(r record.Record) taskView {
	v := taskView{Record: r, StateName: r.State.String()}
	if p, ok := s.tracker.Get(r.ID); ok {
		v.Progress = &p
	}
	return v
}

var allStates = []state.State{
	state.Idle, state.Pending, state.Waiting, state.Downloading,
	state.Pausing, state.Paused, state.Finished, state.Error,
}

func (s *Server) listTasks(c *gin.Context) {
	states := allStates
	if q := c.Query("state"); q != "" {
		st, err := state.Parse(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		states = []state.State{st}
	}
	records, err := s.opts.Gateway.ListByState(c.Request.Context(), states...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取任务列表: " + err.Error()})
		return
	}
	out := make([]taskView, 0, len(records))
	for _, r := range records {
		out = append(out, s.view(r))
	}
	c.JSON(http.StatusOK, out)
}

func taskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的任务 ID"})
		return 0, false
	}
	return id, true
}

func (s *Server) getTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	r, err := s.opts.Gateway.Get(c.Request.Context(), id)
	if errors.Is(err, record.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.view(r))
}

// control 执行一个任务操作并把错误映射为状态码
func (s *Server) control(c *gin.Context, op func(int64) error) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	err := op(id)
	switch {
	case errors.Is(err, downloader.ErrUnknownTask):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"id": id})
	}
}

func (s *Server) pauseTask(c *gin.Context)  { s.control(c, s.opts.Downloader.Pause) }
func (s *Server) resumeTask(c *gin.Context) { s.control(c, s.opts.Downloader.Start) }
func (s *Server) cancelTask(c *gin.Context) { s.control(c, s.opts.Downloader.Cancel) }

func (s *Server) restartTask(c *gin.Context) { s.control(c, s.opts.Downloader.Restart) }

// deleteTask 删除任务和记录，?file=true 时同时删除下载好的文件
func (s *Server) deleteTask(c *gin.Context) {
	deleteFile, _ := strconv.ParseBool(c.DefaultQuery("file", "false"))
	s.control(c, func(id int64) error {
		return s.opts.Downloader.Delete(c.Request.Context(), id, deleteFile)
	})
}

func (s *Server) startAll(c *gin.Context) {
	s.opts.Downloader.StartAll()
	c.JSON(http.StatusAccepted, gin.H{"message": "所有可开始的任务已重新排队"})
}

func (s *Server) pauseAll(c *gin.Context) {
	s.opts.Downloader.PauseAll()
	c.JSON(http.StatusAccepted, gin.H{"message": "正在暂停所有任务"})
}

// settingsRequest 中未出现的字段保持不变
type settingsRequest struct {
	MaxRunning *int   `json:"max_running"`
	SpeedLimit *int64 `json:"speed_limit"`
}

// updateSettings 在运行时调整并发上限和限速
func (s *Server) updateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求: " + err.Error()})
		return
	}
	if (req.MaxRunning != nil && *req.MaxRunning < 1) || (req.SpeedLimit != nil && *req.SpeedLimit < 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_running 必须大于 0，speed_limit 不能为负数"})
		return
	}
	if req.MaxRunning != nil {
		s.opts.Downloader.SetMaxRunning(*req.MaxRunning)
	}
	if req.SpeedLimit != nil {
		s.opts.Downloader.SetSpeedLimit(*req.SpeedLimit)
	}
	c.JSON(http.StatusOK, req)
}

// clearRecords 删除某个状态下的所有记录，只允许已结束的状态
func (s *Server) clearRecords(c *gin.Context) {
	st, err := state.Parse(c.Query("state"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if st != state.Finished && st != state.Idle && st != state.Error {
		c.JSON(http.StatusConflict, gin.H{"error": "只能清理 idle、finished 或 error 状态的记录"})
		return
	}
	n, err := s.opts.Gateway.DeleteByState(c.Request.Context(), st)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// watchRecords 以 SSE 推送某状态下的记录列表，列表每变化一次推送一次
func (s *Server) watchRecords(c *gin.Context) {
	st, err := state.Parse(c.Query("state"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := s.opts.Gateway.QueryByState(c.Request.Context(), st)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer v.Close()
	updates, cancel := v.Subscribe()
	defer cancel()

	c.SSEvent("records", recordsOrEmpty(v.Get()))
	c.Writer.Flush()
	c.Stream(func(io.Writer) bool {
		select {
		case list, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("records", recordsOrEmpty(list))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func recordsOrEmpty(list []record.Record) []record.Record {
	if list == nil {
		return []record.Record{}
	}
	return list
}

func (s *Server) probe(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 url 参数"})
		return
	}
	info, err := fileinfo.Get(c.Request.Context(), s.opts.Client, url)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}
