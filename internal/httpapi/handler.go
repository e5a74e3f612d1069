package httpapi

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"hostel/internal/apperr"
	"hostel/internal/attendance"
	"hostel/internal/auth"
	"hostel/internal/cloudinary"
	"hostel/internal/config"
	"hostel/internal/fees"
	"hostel/internal/occupancy"
	"hostel/internal/queue"
	"hostel/internal/students"
)

// Handler exposes the domain services over HTTP.
type Handler struct {
	cfg      config.App
	students *students.Service
	rooms    *occupancy.Service
	recorder *attendance.Recorder
	ledger   *fees.Ledger
	cloud    *cloudinary.Client // nil if Cloudinary not configured
	jobs     queue.Queue
}

// New creates a handler.
func New(cfg config.App, st *students.Service, rooms *occupancy.Service, rec *attendance.Recorder, ledger *fees.Ledger, cloud *cloudinary.Client, jobs queue.Queue) *Handler {
	return &Handler{cfg: cfg, students: st, rooms: rooms, recorder: rec, ledger: ledger, cloud: cloud, jobs: jobs}
}

// respondErr maps the error taxonomy onto HTTP status codes. Untagged errors
// are treated as internal and their detail is not exposed.
func respondErr(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	var status int
	switch kind {
	case apperr.KindInvalidInput:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindUnavailable:
		status = http.StatusServiceUnavailable
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": kind.String()})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind.String()})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		respondErr(c, apperr.Invalid("invalid %s", name))
		return 0, false
	}
	return id, true
}

// ---------- Auth ----------

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Batch    string `json:"batch"`
	Phone    string `json:"phone"`
	Photo    string `json:"photo"` // optional base64 data URL
}

// Register creates a student account, uploads the photo when storage is
// configured, and issues a token pair.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Invalid("%s", err.Error()))
		return
	}

	var photoURL string
	if req.Photo != "" && h.cloud != nil {
		result, err := h.cloud.UploadBase64(req.Photo)
		if err != nil {
			log.Printf("photo upload failed: %v", err)
		} else {
			photoURL = result.SecureURL
		}
	}

	st, err := h.students.Register(c.Request.Context(), req.Name, req.Email, req.Password, req.Batch, req.Phone, photoURL)
	if err != nil {
		respondErr(c, err)
		return
	}

	tokens, err := auth.Issue(st.ID, st.Role, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		respondErr(c, apperr.Unavailable("token issue failed", err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"student":       st,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// Login authenticates and issues a token pair.
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Invalid("%s", err.Error()))
		return
	}
	st, err := h.students.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondErr(c, err)
		return
	}
	tokens, err := auth.Issue(st.ID, st.Role, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		respondErr(c, apperr.Unavailable("token issue failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"student":       st,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// ---------- Students ----------

func (h *Handler) ListStudents(c *gin.Context) {
	res, err := h.students.List(c.Request.Context(), auth.FromContext(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	if res == nil {
		res = []students.Student{}
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetStudent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	st, err := h.students.Get(c.Request.Context(), auth.FromContext(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) UpdateStudent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Name     string `json:"name"`
		Batch    string `json:"batch"`
		Phone    string `json:"phone"`
		PhotoURL string `json:"photo_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Invalid("%s", err.Error()))
		return
	}
	st, err := h.students.UpdateProfile(c.Request.Context(), auth.FromContext(c), id, req.Name, req.Batch, req.Phone, req.PhotoURL)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) DeactivateStudent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.students.Deactivate(c.Request.Context(), auth.FromContext(c), id); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deactivated": id})
}

func (h *Handler) DeleteStudent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.students.Delete(c.Request.Context(), auth.FromContext(c), id); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// IssueBadge mints the QR badge token for a student. Admin only (enforced at
// the route group).
func (h *Handler) IssueBadge(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	st, err := h.students.Get(c.Request.Context(), auth.FromContext(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	badge, err := auth.IssueBadge(st.ID, st.Name, st.Email, h.cfg.JWTIssuer, h.cfg.JWTSigningKey)
	if err != nil {
		respondErr(c, apperr.Unavailable("badge issue failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"badge": badge, "user_id": st.ID})
}

// ---------- Rooms ----------

func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		RoomNumber string `json:"room_number" binding:"required"`
		Capacity   int    `json:"capacity" binding:"required"`
		Type       string `json:"type" binding:"required"`
		Floor      int    `json:"floor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Invalid("%s", err.Error()))
		return
	}
	room, err := h.rooms.CreateRoom(c.Request.Context(), auth.FromContext(c), occupancy.Room{
		RoomNumber: req.RoomNumber,
		Capacity:   req.Capacity,
		Type:       req.Type,
		Floor:      req.Floor,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListRooms(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	if rooms == nil {
		rooms = []occupancy.Room{}
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *Handler) GetRoom(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	room, err := h.rooms.GetRoom(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) UpdateRoomCapacity(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Capacity int `json:"capacity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Invalid("%s", err.Error()))
		return
	}
	if err := h.rooms.UpdateCapacity(c.Request.Context(), auth.FromContext(c), id, req.Capacity); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": id, "capacity": req.Capacity})
}

func (h *Handler) DeleteRoom(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.rooms.DeleteRoom(c.Request.Context(), auth.FromContext(c), id); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *Handler) AssignRoom(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		StudentID int64 `json:"student_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Invalid("%s", err.Error()))
		return
	}
	if err := h.rooms.Assign(c.Request.Context(), auth.FromContext(c), id, req.StudentID); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			assignmentConflicts.Inc()
		}
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": id, "student_id": req.StudentID})
}

func (h *Handler) UnassignRoom(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		StudentID int64 `json:"student_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Invalid("%s", err.Error()))
		return
	}
	if err := h.rooms.Unassign(c.Request.Context(), auth.FromContext(c), id, req.StudentID); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": id, "student_id": req.StudentID})
}

func (h *Handler) ReassignRoom(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		RoomID int64 `json:"room_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Invalid("%s", err.Error()))
		return
	}
	if err := h.rooms.Reassign(c.Request.Context(), auth.FromContext(c), id, req.RoomID); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			assignmentConflicts.Inc()
		}
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student_id": id, "room_id": req.RoomID})
}

// ---------- Attendance ----------

// ScanBadge marks attendance from a scanned badge token.
func (h *Handler) ScanBadge(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Invalid("%s", err.Error()))
		return
	}
	rec, err := h.recorder.MarkByToken(c.Request.Context(), auth.FromContext(c), req.Token)
	if err != nil {
		respondErr(c, err)
		return
	}
	attendanceMarks.WithLabelValues(rec.Status).Inc()
	c.JSON(http.StatusCreated, gin.H{"status": rec.Status, "time": rec.CheckIn, "day": rec.Day})
}

// ManualAttendance records an entry with an explicit status. Admin only.
func (h *Handler) ManualAttendance(c *gin.Context) {
	var req struct {
		UserID   int64      `json:"user_id" binding:"required"`
		Day      string     `json:"day" binding:"required"`
		Status   string     `json:"status" binding:"required"`
		CheckIn  *time.Time `json:"check_in"`
		CheckOut *time.Time `json:"check_out"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Invalid("%s", err.Error()))
		return
	}
	rec, err := h.recorder.MarkManual(c.Request.Context(), auth.FromContext(c), req.UserID, req.Day, req.Status, req.CheckIn, req.CheckOut)
	if err != nil {
		respondErr(c, err)
		return
	}
	attendanceMarks.WithLabelValues(rec.Status).Inc()
	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListAttendance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	records, err := h.recorder.List(c.Request.Context(), auth.FromContext(c), id, c.Query("from"), c.Query("to"), limit, offset)
	if err != nil {
		respondErr(c, err)
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *Handler) AttendanceStats(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	stats, err := h.recorder.UserStats(c.Request.Context(), auth.FromContext(c), id, c.Query("from"), c.Query("to"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ---------- Fees ----------

func (h *Handler) CreateFee(c *gin.Context) {
	var req struct {
		UserID  int64   `json:"user_id" binding:"required"`
		Amount  float64 `json:"amount" binding:"required"`
		FeeType string  `json:"fee_type" binding:"required"`
		DueDate string  `json:"due_date" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Invalid("%s", err.Error()))
		return
	}
	fee, err := h.ledger.Create(c.Request.Context(), auth.FromContext(c), req.UserID, req.Amount, req.FeeType, req.DueDate)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, fee)
}

func (h *Handler) PayFee(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		PaidDate  string `json:"paid_date"`
		ReceiptNo string `json:"receipt_no"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		respondErr(c, apperr.Invalid("%s", err.Error()))
		return
	}
	fee, err := h.ledger.MarkPaid(c.Request.Context(), auth.FromContext(c), id, req.PaidDate, req.ReceiptNo)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, fee)
}

func (h *Handler) ListFees(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.ledger.ListForUser(c.Request.Context(), auth.FromContext(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	if res == nil {
		res = []fees.Fee{}
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) FeeStats(c *gin.Context) {
	stats, err := h.ledger.RangeStats(c.Request.Context(), auth.FromContext(c), c.Query("from"), c.Query("to"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// SweepFees runs the overdue sweep synchronously and reports how many fees
// moved. Admin only (enforced at the route group).
func (h *Handler) SweepFees(c *gin.Context) {
	moved, err := h.ledger.SweepOverdue(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	sweptFees.Add(float64(moved))
	c.JSON(http.StatusOK, gin.H{"moved": moved})
}

// EnqueueSweep publishes a sweep job for the worker instead of running it
// inline.
func (h *Handler) EnqueueSweep(c *gin.Context) {
	if err := h.jobs.Publish(c.Request.Context(), queue.Message{Type: queue.TypeFeeSweep}); err != nil {
		respondErr(c, apperr.Unavailable("enqueue failed", err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"enqueued": queue.TypeFeeSweep})
}
