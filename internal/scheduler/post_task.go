package scheduler

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/galaxycdc/replicator/pkg/galaxy"
)

// postTask implements POST /v1/tasks, grounded on the teacher's
// scheduler.postTask: bind, validate, start, register.
func (s *scheduler) postTask(ctx *gin.Context) {
	var req galaxy.TaskRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(400, galaxy.ErrParameterError)
		return
	}
	if err := req.LegalVerification(); err != nil {
		ctx.JSON(400, galaxy.StandardReturn{ErrorCode: 400, Message: err.Error()})
		return
	}

	t, err := s.startTask(&req)
	if err != nil {
		log.Printf("%+v\n", err)
		ctx.JSON(400, galaxy.StandardReturn{ErrorCode: 400, Message: err.Error()})
		return
	}

	ctx.JSON(200, galaxy.StandardReturn{Message: "success", Data: gin.H{
		"task_id": t.cfg.TaskID,
		"gtid":    t.cfg.GTID,
	}})
}

// getTasks implements GET /v1/tasks: every running task and its current
// durable GTID.
func (s *scheduler) getTasks(ctx *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(gin.H, len(s.taskMap))
	for id, t := range s.taskMap {
		out[id] = gin.H{
			"gtid":  t.repl.GTID(),
			"error": t.repl.Error(),
			"mode":  t.cfg.Mode.String(),
		}
	}

	ctx.JSON(200, galaxy.StandardReturn{Data: gin.H{
		"total": len(s.taskMap),
		"tasks": out,
	}})
}
