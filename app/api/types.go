package api

import (
	"github.com/civicmap/civicmap/app/database"
	"github.com/civicmap/civicmap/app/pipeline"
	"github.com/civicmap/civicmap/app/tasks"
)

type Handler struct {
	postRepo  database.PostRepository
	locRepo   database.LocationRepository
	processor *pipeline.Processor
	scheduler tasks.TaskSchedulerInterface
}
