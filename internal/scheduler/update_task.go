package scheduler

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/galaxycdc/replicator/pkg/galaxy"
)

// stopTask implements POST /v1/tasks/:task_id/stop, grounded on the
// teacher's scheduler.stopTask: cooperative stop, task stays registered.
func (s *scheduler) stopTask(ctx *gin.Context) {
	taskID := ctx.Param("task_id")

	s.mu.Lock()
	t, exists := s.taskMap[taskID]
	s.mu.Unlock()
	if !exists {
		ctx.JSON(400, galaxy.ErrParameterError)
		return
	}

	t.repl.Stop()

	ctx.JSON(200, galaxy.StandardReturn{Message: "STOP TASK SUCCESS: " + taskID})
}

// deleteTask implements DELETE /v1/tasks/:task_id, grounded on the
// teacher's scheduler.deleteTask: stop, drop the persisted state, forget
// the task.
func (s *scheduler) deleteTask(ctx *gin.Context) {
	taskID := ctx.Param("task_id")
	if taskID == "" {
		ctx.JSON(400, galaxy.ErrParameterError)
		return
	}

	s.mu.Lock()
	t, exists := s.taskMap[taskID]
	if exists {
		delete(s.taskMap, taskID)
	}
	s.mu.Unlock()
	if !exists {
		ctx.JSON(400, galaxy.ErrParameterError)
		return
	}

	t.repl.Stop()
	if t.notify != nil {
		if err := t.notify.Close(); err != nil {
			log.Println(err)
		}
	}
	if err := s.store.DelTask(taskID); err != nil {
		log.Println(err)
	}

	ctx.JSON(200, galaxy.StandardReturn{Message: "DEL TASK SUCCESS: " + taskID})
}

// updateTask implements PATCH /v1/tasks/:task_id, grounded on the
// teacher's scheduler.updateTask: replace the running task's table
// filter without restarting it.
func (s *scheduler) updateTask(ctx *gin.Context) {
	var update galaxy.TaskUpdate
	if err := ctx.BindJSON(&update); err != nil {
		ctx.JSON(400, galaxy.ErrParameterError)
		return
	}
	update.TaskID = ctx.Param("task_id")
	if err := update.LegalVerification(); err != nil {
		ctx.JSON(400, galaxy.StandardReturn{ErrorCode: 400, Message: err.Error()})
		return
	}

	s.mu.Lock()
	t, exists := s.taskMap[update.TaskID]
	s.mu.Unlock()
	if !exists {
		ctx.JSON(400, galaxy.ErrParameterError)
		return
	}

	t.repl.SetTables(update.TableSet())

	ctx.JSON(200, galaxy.StandardReturn{Message: "Update Success"})
}
