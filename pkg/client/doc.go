package client

// Usage:
//
//	c := client.New("http://localhost:8080", "training-runs", "queue-secret")
//
//	task, err := c.SubmitTask(ctx, client.SubmitTaskRequest{
//	    TaskName: "train",
//	    Args:     document.Object(map[string]document.Value{"lr": document.Number(0.1)}),
//	    Metadata: document.Null(),
//	})
//
// A worker loop is built on top of fetch/heartbeat/report; see
// NewWorkerPool in worker.go for the managed version of that loop.
//
//	w, _ := c.RegisterWorker(ctx, client.RegisterWorkerRequest{Name: "gpu-0"})
//	t, _ := c.FetchTask(ctx, client.FetchTaskRequest{WorkerID: w.ID})
//	if t != nil {
//	    c.Heartbeat(ctx, t.ID, w.ID)
//	    c.ReportTask(ctx, t.ID, w.ID, dispatch.OutcomeSuccess, document.Null())
//	}
