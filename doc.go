// Package wearsense predicts psychiatric symptom scores of acute inpatients
// from wearable sensor streams and clinical records.
//
// Weekly sequences of sensor and non-sensor features are classified by a
// CNN-GRU network: a 1-D convolution extracts local patterns, a GRU
// summarizes the week, and a sigmoid head produces one probability per
// symptom. Permutation feature importance then ranks which inputs the
// trained model relies on.
//
// # Pipeline
//
//  1. Load and concatenate CSV exports (dataset.LoadCSV)
//  2. Fill missing values, renumber weeks per patient, binarize targets
//  3. Split by patient so no patient appears in both train and test
//  4. Group rows into zero-padded (patient, week) sequences and standardize
//  5. Train with binary cross-entropy and AdamW (train.Trainer)
//  6. Evaluate and compute permutation importance on the test patients
//
// # Package Structure
//
//   - core: tensors, cache-aligned storage and checksummed serialization
//   - kernels: activations and BLAS-backed vector and matrix operations
//   - dataset: loading, preprocessing, splitting, sequences and batching
//   - model: the CNN-GRU network, its gradients and checkpoint format
//   - train: loss, optimizer, training loop and evaluation metrics
//   - runtime: parallel inference engine with per-worker arenas
//   - importance: permutation feature importance
//   - store: SQLite registry of runs, epochs, metrics and importances
//   - config, logging: settings and zap loggers for the CLI
//   - cmd/wearsense: command-line interface
package wearsense
