package recorder

// frameJob is a loaded frame waiting to be recorded.
type frameJob struct {
	frame    Frame
	parentID string
}

// startFrames launches the frame worker of gen and the load waiters of the
// frames owned by parent.
func (r *Recorder) startFrames(gen *generation, parent *contextRec) {
	go r.frameLoop(gen)
	r.discoverFrames(gen, parent)
}

// frameLoop records queued frames one at a time until the generation ends.
func (r *Recorder) frameLoop(gen *generation) {
	for {
		select {
		case <-gen.ctx.Done():
			return
		case job := <-gen.queue:
			r.recordFrame(gen, job)
		}
	}
}

func (r *Recorder) recordFrame(gen *generation, job frameJob) {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	if gen.ctx.Err() != nil {
		return
	}
	if job.frame.Terminated() {
		r.logger.Debug("recorder: frame terminated before recording", "src", job.frame.Src())
		return
	}
	c, err := r.recordContext(gen, job.frame.Context(), job.parentID, true)
	if err != nil {
		r.logger.Warn("recorder: frame skipped", "src", job.frame.Src(), "parent_id", job.parentID, "error", err)
		return
	}
	r.discoverFrames(gen, c)
}

// discoverFrames starts one waiter per accessible, live child frame. There
// is no load timeout: a frame that never loads never records.
func (r *Recorder) discoverFrames(gen *generation, parent *contextRec) {
	frames, err := parent.src.Frames(gen.ctx)
	if err != nil {
		r.logger.Warn("recorder: list frames", "related_id", parent.id, "error", err)
		return
	}
	for _, f := range frames {
		if !f.Accessible() || f.Terminated() {
			r.logger.Debug("recorder: frame filtered", "src", f.Src(), "related_id", parent.id)
			continue
		}
		go r.awaitFrame(gen, frameJob{frame: f, parentID: parent.id})
	}
}

func (r *Recorder) awaitFrame(gen *generation, job frameJob) {
	select {
	case <-gen.ctx.Done():
		return
	case <-job.frame.Loaded():
	}
	select {
	case <-gen.ctx.Done():
	case gen.queue <- job:
	}
}
