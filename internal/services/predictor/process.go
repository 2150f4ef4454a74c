package predictor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"StoryRisk/internal/domain/models"
	"StoryRisk/pkg/logger"
)

const stderrTail = 2048

// ProcessPredictor runs the model script as a child process per call. Every
// stdout line that parses as JSON is one element of the output array.
type ProcessPredictor struct {
	python  string
	script  string
	timeout time.Duration
	log     *logger.Logger
}

// NewProcessPredictor creates a predictor that runs `python script ...`.
// A zero timeout leaves deadlines to the caller's context.
func NewProcessPredictor(python, script string, timeout time.Duration, log *logger.Logger) *ProcessPredictor {
	if python == "" {
		python = "python"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ProcessPredictor{python: python, script: script, timeout: timeout, log: log}
}

func (p *ProcessPredictor) PredictOne(ctx context.Context, in models.EstimationInput, influence float64) (models.PredictionResult, error) {
	const op = "predict"
	if err := checkInput(in); err != nil {
		return models.PredictionResult{}, err
	}
	arg, err := json.Marshal(toPayload(in))
	if err != nil {
		return models.PredictionResult{}, fmt.Errorf("marshal input: %w", err)
	}
	out, err := p.run(ctx, op, string(arg), formatInfluence(clampInfluence(influence)))
	if err != nil {
		return models.PredictionResult{}, err
	}
	res, err := parseSingle(out)
	if err != nil {
		return models.PredictionResult{}, models.PredictorFailure(models.ErrPredictorError, op, err)
	}
	return res, nil
}

func (p *ProcessPredictor) PredictBatch(ctx context.Context, ins []models.EstimationInput, influence float64) ([]models.PredictionOutcome, error) {
	const op = "predict batch"
	if err := checkInputs(ins); err != nil {
		return nil, err
	}
	payload := make([]storyPayload, len(ins))
	for i, in := range ins {
		payload[i] = toPayload(in)
	}
	arg, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal inputs: %w", err)
	}
	out, err := p.run(ctx, op, string(arg), formatInfluence(clampInfluence(influence)))
	if err != nil {
		return nil, err
	}
	outcomes, err := parseBatch(out, len(ins))
	if err != nil {
		return nil, models.PredictorFailure(models.ErrPredictorError, op, err)
	}
	return outcomes, nil
}

func (p *ProcessPredictor) Validate(ctx context.Context, testDataPath string, influence float64) (json.RawMessage, error) {
	const op = "validate model"
	if err := checkTestDataPath(testDataPath); err != nil {
		return nil, err
	}
	out, err := p.run(ctx, op, "--validate", testDataPath, formatInfluence(clampInfluence(influence)))
	if err != nil {
		return nil, err
	}
	payload, err := rawPayload(out)
	if err != nil {
		return nil, models.PredictorFailure(models.ErrPredictorError, op, err)
	}
	return payload, nil
}

func (p *ProcessPredictor) FindOptimal(ctx context.Context, testDataPath string, influenceValues []float64) (json.RawMessage, error) {
	const op = "find optimal influence"
	if err := checkTestDataPath(testDataPath); err != nil {
		return nil, err
	}
	args := []string{"--find-optimal", testDataPath}
	if len(influenceValues) > 0 {
		args = append(args, joinInfluences(influenceValues))
	}
	out, err := p.run(ctx, op, args...)
	if err != nil {
		return nil, err
	}
	payload, err := rawPayload(out)
	if err != nil {
		return nil, models.PredictorFailure(models.ErrPredictorError, op, err)
	}
	return payload, nil
}

// run executes the script and returns its JSON lines as one array.
func (p *ProcessPredictor) run(ctx context.Context, op string, args ...string) ([]byte, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, p.python, append([]string{p.script}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second
	runErr := cmd.Run()

	if stderr.Len() > 0 {
		p.log.Debug("predictor stderr",
			logger.String("op", op),
			logger.String("stderr", tail(stderr.String())),
		)
	}
	p.log.Debug("predictor finished",
		logger.String("op", op),
		logger.Duration("duration", time.Since(start)),
	)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &models.EstimationError{Kind: models.ErrPredictorUnavailable, Op: op, Err: ctxErr}
	}
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return nil, &models.EstimationError{Kind: models.ErrPredictorUnavailable, Op: op, Err: runErr}
	}

	lines := jsonLines(stdout.Bytes())
	if len(lines) == 0 {
		if exitErr != nil {
			return nil, &models.EstimationError{
				Kind: models.ErrPredictorUnavailable,
				Op:   op,
				Msg:  fmt.Sprintf("predictor exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(tail(stderr.String()))),
			}
		}
		return nil, &models.EstimationError{Kind: models.ErrPredictorEmptyResult, Op: op}
	}
	if msg, ok := payloadError(lines[0]); ok {
		return nil, &models.EstimationError{Kind: models.ErrPredictorError, Op: op, Msg: msg}
	}
	if exitErr != nil {
		return nil, &models.EstimationError{
			Kind: models.ErrPredictorError,
			Op:   op,
			Msg:  fmt.Sprintf("predictor exited with code %d", exitErr.ExitCode()),
		}
	}

	arr, err := json.Marshal(lines)
	if err != nil {
		return nil, &models.EstimationError{Kind: models.ErrPredictorError, Op: op, Err: err}
	}
	return arr, nil
}

// jsonLines keeps the stdout lines holding a JSON array or object. Stray
// prints, including bare scalars like 1 or true, are skipped.
func jsonLines(b []byte) []json.RawMessage {
	var lines []json.RawMessage
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || (line[0] != '[' && line[0] != '{') {
			continue
		}
		line = sanitizeJSON(line)
		if !json.Valid(line) {
			continue
		}
		lines = append(lines, json.RawMessage(append([]byte(nil), line...)))
	}
	return lines
}

func tail(s string) string {
	if len(s) <= stderrTail {
		return s
	}
	return s[len(s)-stderrTail:]
}
