package scheduler

import "github.com/gin-gonic/gin"

// registerApi wires the v1 task routes plus /metrics, generalized from
// the teacher's internal/scheduler/api.go (which left the routes
// commented out as a TODO list — SPEC_FULL §6 is that TODO, implemented).
func (s *scheduler) registerApi() {
	app := gin.New()

	v1 := app.Group("/v1")
	{
		v1.POST("/tasks", s.postTask)
		v1.GET("/tasks", s.getTasks)
		v1.POST("/tasks/:task_id/stop", s.stopTask)
		v1.DELETE("/tasks/:task_id", s.deleteTask)
		v1.PATCH("/tasks/:task_id", s.updateTask)
	}

	s.registerPromHandler(app)

	s.app = app
}
