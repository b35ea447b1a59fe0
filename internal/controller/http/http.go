package http

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/PLab-SI/PicoQuake/internal/acquisition"
	"github.com/PLab-SI/PicoQuake/internal/manager"
	managerImpl "github.com/PLab-SI/PicoQuake/internal/manager/picoquake"
	"github.com/PLab-SI/PicoQuake/internal/sensor"
	"github.com/PLab-SI/PicoQuake/internal/utils"
)

const streamIdleTimeout = time.Second

type server struct {
	manager   manager.Manager
	outputDir string
}

type sampleResponse struct {
	Count int64   `json:"count"`
	AccX  float32 `json:"acc_x"`
	AccY  float32 `json:"acc_y"`
	AccZ  float32 `json:"acc_z"`
	GyroX float32 `json:"gyro_x"`
	GyroY float32 `json:"gyro_y"`
	GyroZ float32 `json:"gyro_z"`
}

func createSample(s sensor.IMUSample) sampleResponse {
	return sampleResponse{
		Count: s.Count,
		AccX:  s.AccX,
		AccY:  s.AccY,
		AccZ:  s.AccZ,
		GyroX: s.GyroX,
		GyroY: s.GyroY,
		GyroZ: s.GyroZ,
	}
}

type acquireRequest struct {
	Seconds float64 `json:"seconds"`
	Samples int     `json:"samples"`
	Save    bool    `json:"save"`
}

type triggerRequest struct {
	Threshold   float64 `json:"threshold" binding:"required"`
	PreSeconds  float64 `json:"pre_seconds"`
	PostSeconds float64 `json:"post_seconds"`
	Source      string  `json:"source,omitempty"`
	Axis        string  `json:"axis,omitempty"`
	RMSWindow   float64 `json:"rms_window" binding:"required"`
	Save        bool    `json:"save"`
}

func (s *server) checkRunning(c *gin.Context) bool {
	if !s.manager.Running() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"err": "device is not running"})
		return false
	}
	return true
}

func (s *server) getStatus(c *gin.Context) {
	resp := gin.H{
		"running":          s.manager.Running(),
		"faulted":          s.manager.Faulted(),
		"manually_stopped": s.manager.ManuallyStopped(),
		"config":           s.manager.Config().String(),
	}
	if st, err := s.manager.Status(); err == nil {
		resp["state"] = st.State.String()
		resp["temperature"] = st.Temperature
		resp["missed_samples"] = st.MissedSamples
		resp["error_code"] = st.ErrorCode
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) getDevice(c *gin.Context) {
	info, err := s.manager.Info()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"unique_id": info.UniqueID,
		"short_id":  info.ShortID(),
		"firmware":  info.Firmware,
	})
}

func (s *server) listDevices(c *gin.Context) {
	ports, err := s.manager.ListDev()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": ports})
}

func (s *server) start(c *gin.Context) {
	log.Infof("api: start")
	if err := s.manager.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error(), "running": s.manager.Running()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"err": nil, "running": s.manager.Running()})
}

func (s *server) stop(c *gin.Context) {
	log.Infof("api: stop")
	if err := s.manager.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error(), "running": s.manager.Running()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"err": nil, "running": s.manager.Running()})
}

func (s *server) getLast(c *gin.Context) {
	if !s.checkRunning(c) {
		return
	}
	sample, err := s.manager.ReadLast()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, createSample(sample))
}

// getSamples returns the samples after the cursor query parameter. A missing cursor
// returns only the newest sample. Clients pass the returned cursor back on the next call.
func (s *server) getSamples(c *gin.Context) {
	if !s.checkRunning(c) {
		return
	}
	cursor := int64(-1)
	if q := c.Query("cursor"); q != "" {
		v, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"err": "invalid cursor " + q})
			return
		}
		cursor = v
	}
	next, samples, err := s.manager.Read(cursor)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"cursor": cursor, "samples": []sampleResponse{}, "err": err.Error()})
		return
	}
	resp := make([]sampleResponse, len(samples))
	for i, sample := range samples {
		resp[i] = createSample(sample)
	}
	c.JSON(http.StatusOK, gin.H{"cursor": next, "samples": resp, "err": nil})
}

// stream pushes every live sample as a server sent event until the client goes away.
func (s *server) stream(c *gin.Context) {
	if !s.checkRunning(c) {
		return
	}
	ch, err := s.manager.Subscribe()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"err": err.Error()})
		return
	}
	defer s.manager.Unsubscribe(ch)

	ctx := c.Request.Context()
	idle := time.NewTimer(streamIdleTimeout)
	defer idle.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-idle.C:
			c.SSEvent("error", "no samples")
			return false
		case v, ok := <-ch:
			if !ok {
				return false
			}
			sample, ok := v.(sensor.IMUSample)
			if !ok {
				return true
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(streamIdleTimeout)
			c.SSEvent("sample", createSample(sample))
			return true
		}
	})
}

func (s *server) acquire(c *gin.Context) {
	req := acquireRequest{}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if !s.checkRunning(c) {
		return
	}
	res, err := s.manager.Acquire(req.Seconds, req.Samples)
	s.respondResult(c, res, err, req.Save)
}

func (s *server) trigger(c *gin.Context) {
	req := triggerRequest{}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if req.Source == "" {
		req.Source = sensor.SourceAccel.String()
	}
	if req.Axis == "" {
		req.Axis = sensor.AxisAll.String()
	}
	source, err := sensor.ParseSource(req.Source)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	axis, err := sensor.ParseAxis(req.Axis)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if !s.checkRunning(c) {
		return
	}
	res, err := s.manager.Trigger(c.Request.Context(), manager.TriggerOpt{
		Threshold:   req.Threshold,
		PreSeconds:  req.PreSeconds,
		PostSeconds: req.PostSeconds,
		Source:      source,
		Axis:        axis,
		RMSWindow:   req.RMSWindow,
	})
	s.respondResult(c, res, err, req.Save)
}

// respondResult reports an acquisition. Incomplete and corrupted data is still returned,
// and saved when asked, with the outcome telling the client what went wrong.
func (s *server) respondResult(c *gin.Context, res acquisition.Result, err error, save bool) {
	if err != nil {
		c.JSON(statusFor(err), gin.H{"err": err.Error()})
		return
	}
	resp := gin.H{
		"outcome":     res.Outcome.String(),
		"err":         nil,
		"num_samples": res.Data.NumSamples(),
		"duration":    res.Data.DurationSeconds(),
		"integrity":   res.Data.Integrity(),
		"skipped":     res.Data.SkippedSamples(),
		"start_time":  res.Data.StartTime,
		"device":      res.Data.Device.ShortID(),
		"config":      res.Data.Config.String(),
	}
	if res.Err != nil {
		resp["err"] = res.Err.Error()
	}
	if save {
		if err := utils.EnsureDir(s.outputDir, 0755); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
			return
		}
		path := filepath.Join(s.outputDir, res.Data.FileName())
		if err := res.Data.SaveCSV(path); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
			return
		}
		log.Infof("api: saved %s", path)
		resp["file"] = path
	}
	c.JSON(http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, managerImpl.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, managerImpl.ErrContinuousActive):
		return http.StatusConflict
	case errors.Is(err, managerImpl.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewHTTPServer installs the routes under /api/v1 on router.
func NewHTTPServer(router *gin.Engine, m manager.Manager, outputDir string) {
	s := &server{manager: m, outputDir: outputDir}
	v1 := router.Group("/api/v1")
	v1.GET("/status", s.getStatus)
	v1.GET("/device", s.getDevice)
	v1.GET("/devices", s.listDevices)
	v1.POST("/start", s.start)
	v1.POST("/stop", s.stop)
	v1.GET("/last", s.getLast)
	v1.GET("/samples", s.getSamples)
	v1.GET("/stream", s.stream)
	v1.POST("/acquire", s.acquire)
	v1.POST("/trigger", s.trigger)
}
