package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attendanceMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostel_attendance_marks_total",
		Help: "Attendance records created, by status.",
	}, []string{"status"})

	assignmentConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostel_assignment_conflicts_total",
		Help: "Room assignment attempts rejected for capacity or double-booking.",
	})

	sweptFees = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostel_fees_swept_total",
		Help: "Fees transitioned to overdue by sweeps.",
	})
)
