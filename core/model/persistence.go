package model

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

// SaveModel はモデルをgob形式でファイルに保存する
//
// インターフェース型のフィールド (例: Classifier) を含む場合、
// 具象型は各パッケージの init で gob.Register されている必要がある。
//
//	rf := ensemble.NewRandomForestClassifier()
//	// ... 学習 ...
//	err := model.SaveModel(rf, "rf.gob")
func SaveModel(m interface{}, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", filename)
	}
	defer file.Close()

	if err := SaveModelToWriter(m, file); err != nil {
		return err
	}
	return file.Sync()
}

// LoadModel はファイルからモデルを読み込む
func LoadModel(m interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(errors.ErrArtifactNotFound, "%s", filename)
		}
		return errors.Wrapf(err, "failed to open %s", filename)
	}
	defer file.Close()

	return LoadModelFromReader(m, file)
}

// SaveModelToWriter はモデルをio.Writerに保存する
func SaveModelToWriter(m interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(m); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む
func LoadModelFromReader(m interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(m); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}
